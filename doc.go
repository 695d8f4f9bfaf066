// Package missingframes reproduces the "missing frames" symptom of chunked,
// extendible datasets: frames appended one at a time that read back as
// zero-filled after the file is closed and reopened.
//
// A run has two phases. The writer phase creates a file holding one
// [N,4,6] int32 dataset, extends it by one frame per iteration and writes a
// fixed 4x6 pattern into the new frame. The verifier phase reopens the file
// read-only, reads every frame back and compares its first element with the
// pattern. Storage failures abort the run with a *PhaseError; frames that
// read back wrong are tallied in the Result.
//
// Basic usage:
//
//	res, err := missingframes.Run(ctx, missingframes.Test1())
//	if err != nil {
//	    return err
//	}
//	missingframes.Report(os.Stdout, &res.Verification)
//
// Three presets (Test1, Test2, Test3) cover the chunk shapes and B-tree
// orders that narrow down the triggering condition.
package missingframes
