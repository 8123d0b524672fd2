// Package config loads everything a computation needs besides the data:
// run configuration, parameters and function modules.
//
// # Run configuration
//
// A run file is CUE with a single top-level run struct. It is checked
// against the built-in #Run schema, decoded into RunConfig and validated
// with struct tags. Relative paths are resolved against the file's
// directory.
//
//	run: {
//	    date:    "2023-07-01"
//	    targets: ["kindergeld_m_hh"]
//	    data: {path: "persons.csv", index: "p_id"}
//	    functions: ["functions/kindergeld.star"]
//	    params: "params.cue"
//	    options: {check_minimal_specification: "warn"}
//	}
//
// # Parameters
//
// Parameter files are CUE or YAML with a top-level params mapping. Dated
// values are lists of {from, value} entries:
//
//	params: kindergeld: satz: [
//	    {from: "2021-01-01", value: 219},
//	    {from: "2023-01-01", value: 250},
//	]
//
// LoadParams resolves them at the policy date; keys with no active entry
// are dropped.
//
// # Function modules
//
// Function modules are Starlark files declaring nodes with the function
// and aggregate builtins (see ModuleLoader). Module execution and every
// function call run on their own thread and are cancelled after the loader
// timeout. Modules have no filesystem or network access.
//
//	def _anspruch(alter):
//	    return [a < 18 for a in alter]
//
//	function("kindergeld_anspruch", ["alter"], _anspruch)
//	function("kindergeld_m", ["kindergeld_anspruch"],
//	         lambda anspruch, satz: [satz if x else 0.0 for x in anspruch],
//	         params = ["kindergeld.satz"], start = "2023-01-01")
//	aggregate("kindergeld_m_hh", "kindergeld_m", "hh_id")
//
// # Errors
//
// Configuration problems are returned as *ConfigError, which lists every
// ValidationError with its location and is classified by the engine as a
// configuration error.
package config
