package missingframes

import (
	"fmt"
	"io"
	"text/tabwriter"
)

// Report prints the verification as two lines:
//
//	Missing number of frames: 1
//	First missing frame: 65537
//
// or, when nothing is missing, "All OK!" on the second line.
func Report(w io.Writer, v *Verification) error {
	if _, err := fmt.Fprintf(w, "Missing number of frames: %d\n", v.Missing); err != nil {
		return err
	}
	var err error
	if v.Missing > 0 {
		_, err = fmt.Fprintf(w, "First missing frame: %d\n", v.FirstMissing)
	} else {
		_, err = fmt.Fprintln(w, "All OK!")
	}
	return err
}

// ReportSummary prints one line per variant.
func ReportSummary(w io.Writer, results []*Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VARIANT\tCHUNK\tISTOREK\tFRAMES\tEXTENT\tMISSING\tFIRST\tSTATUS")
	for _, r := range results {
		status := "ok"
		if !r.OK() {
			status = "MISSING"
		}
		fmt.Fprintf(tw, "%s\t%v\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Config.Name, r.Config.ChunkDims, r.Config.IstoreK, r.Write.Frames,
			r.Extent, r.Missing, r.FirstMissing, status)
	}
	return tw.Flush()
}
