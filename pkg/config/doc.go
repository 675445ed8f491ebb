// Package config loads, defaults and validates harnessctl provisioning
// documents.
//
// # Overview
//
// A provisioning document is a YAML file describing one Harness project and
// everything created inside it: connectors, secrets, environments,
// infrastructures, services, access control entities and pipelines.
//
//	doc, err := config.Load("harness-project.yaml")
//	if err != nil {
//		return err
//	}
//	doc.ApplyOverrides(os.Getenv("HARNESS_API_KEY"), "")
//	config.ApplyDefaults(doc)
//	if err := config.NewValidator().Validate(doc); err != nil {
//		return err
//	}
//
// # Defaults and identifiers
//
// ApplyDefaults fills every optional field. A record without an identifier
// gets one derived from its name with Normalize, which lowercases and maps
// hyphens and spaces to underscores.
//
// # Validation
//
// Validator combines go-playground/validator struct rules with a CUE schema
// of the document shape. Errors come back as ValidationErrors keyed by
// section path, e.g. "environments[0]" and field "identifier".
//
// # Overlays
//
// OverlayEvaluator runs a Starlark script's configure(cfg) function over the
// document before validation, e.g. to generate one environment per region.
//
//	def configure(cfg):
//	    cfg["environments"] = [{"name": "prod-" + r} for r in ["us", "eu"]]
//	    return cfg
//
// # Settings
//
// Settings hold CLI configuration read with viper from harnessctl.yaml or
// ~/.harnessctl.yaml and HARNESSCTL_* environment variables.
package config
