package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/evanphx/rvos/loader"
	"github.com/evanphx/rvos/memory"
)

func dump(path string) error {
	img, err := loader.NewLoader(nil).LoadFile(path)
	if err != nil {
		return err
	}

	fmt.Printf("%s:\n", path)
	fmt.Printf("\n[entry]\n%#x\n", img.Entry)

	fmt.Printf("\n[segments]\n")
	tr := tabwriter.NewWriter(os.Stdout, 4, 8, 1, ' ', 0)
	fmt.Fprintf(tr, "idx\tvaddr\tmemsz\tfilesz\tperm\tpages\n")

	for i, seg := range img.Segments {
		end := seg.Vaddr + memory.VirtAddr(seg.MemSize)
		pages := end.Ceil() - seg.Vaddr.Floor()

		fmt.Fprintf(tr, "%d\t%#x\t%#x\t%#x\t%s\t%d\n",
			i, uint64(seg.Vaddr), seg.MemSize, len(seg.Data), seg.Perm, pages)
	}

	tr.Flush()

	return nil
}
