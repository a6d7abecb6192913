package log

import (
	hclog "github.com/hashicorp/go-hclog"
)

// EnableDebug lowers the root logger to debug unless it is already more
// verbose.
func EnableDebug() {
	if L.GetLevel() > hclog.Debug {
		L.SetLevel(hclog.Debug)
	}
}
