// Package config loads the policyforge configuration.
//
// Configuration comes from three layers, later ones winning:
//
//  1. the built-in defaults of Default
//  2. a YAML, JSON or TOML file
//  3. POLICYFORGE_* environment variables, with "." in a key replaced by "_"
//     (POLICYFORGE_DRIFT_THRESHOLD overrides drift.threshold)
//
// The merged result is validated with struct tags and cross-field checks.
// Helper methods turn each section into the options type of the component
// it configures, so entry points never copy fields by hand:
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	result, err := detector.DetectDrift(ctx, target, baseline, live, cfg.DriftOptions())
//
// Watch reloads the file on change and hands every valid new version to a
// callback. Invalid edits are logged and ignored.
package config
