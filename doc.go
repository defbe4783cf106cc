// Package plugview hosts a plugin editor's web UI in a separate helper process.
//
// The plugin side spawns the helper with two inherited pipe endpoints and talks to it
// over tagged frames (package wire, package transport). A supervisor owns the helper's
// lifecycle (package helper), a readiness gate holds back scripts until the document
// is ready (package gate) and a view binds it all to the document (package webui).
//
// Open wires these together for one editor instance:
//
//	cfg, _ := config.Load("plugview.yaml")
//	ed, err := plugview.Open(ctx, cfg, processor.NewGain())
//	if err != nil {
//		return err
//	}
//	defer ed.Close()
package plugview
