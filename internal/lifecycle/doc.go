// Package lifecycle keeps the observer registry in step with the plugin
// loader.
//
// The controller is a pure reaction layer: an added key is constructed and
// registered, removed keys are drained out of the registry before the
// loader may unload their artifact, and a modified artifact is handled as
// remove, reload, then recreate. A reload that fails leaves its keys
// unregistered rather than stopping the service.
package lifecycle
