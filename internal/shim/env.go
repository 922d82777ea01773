// Package shim defines the contract between the host process and the code
// running inside a child script: the well-known environment keys the
// environment builder writes, the Go-side accessor used by built-in
// integrations, and the node preload module attached as a global TD object.
package shim

// Environment keys injected into every script execution.
const (
	// EnvGlobalsJSON carries the raw global-variable map as one JSON blob.
	EnvGlobalsJSON = "TASKDOG_GLOBALS_JSON"

	// EnvParamsJSON carries the resolved parameter tree as one JSON blob.
	EnvParamsJSON = "TASKDOG_PARAMS_JSON"

	// EnvParamPrefix prefixes each flattened parameter key.
	EnvParamPrefix = "TASKDOG_PARAM_"

	// EnvAPIURL is the base URL of the hosting API, for in-script callbacks.
	EnvAPIURL = "TASKDOG_API_URL"
)
