// Package deltacache implements the delta source cache and reconstruction
// engine for over-the-air firmware updates.
//
// Devices that install an update keep the installed image in a
// content-addressed cache ([store.Store]). When the next update arrives as
// a binary diff against a previous version, the engine selects a viable
// reconstruction path from what is cached ([plan.Planner]), applies the
// diff ([patch.Applier]), verifies the reconstructed image against the
// manifest's expected hash, hands it to the platform installer, and caches
// the newly installed image for the version after that.
//
// The high-level entry point is [Updater]:
//
//	u, err := deltacache.New(
//	    deltacache.WithCacheDir("/var/lib/adu/sdc"),
//	    deltacache.WithInstaller(deltacache.ExecInstaller{Path: "swupdate", Args: []string{"-i"}}),
//	)
//	if err != nil {
//	    return err
//	}
//	result := u.Update(ctx, deltacache.Request{
//	    Provider:      "contoso",
//	    TargetVersion: "3.0.0",
//	    Candidates:    candidates, // from a parsed import manifest
//	    DiffDir:       downloadDir,
//	})
//
// Every attempt yields exactly one [Result]. A missing reconstruction path
// is not a failure: the outcome [OutcomeFullImageRequired] tells the
// caller to acquire the full image by other means. Failures carry exactly
// one [ErrorKind] so operator tooling can distinguish, in particular, a
// device that updated successfully but failed to seed its cache
// ([KindCaching], [KindCacheVerification]) from one that did not update.
package deltacache
