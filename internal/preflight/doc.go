// Package preflight provides readiness checks for the generation gateway and
// the filesystem paths montage depends on.
//
// These checks run in two contexts:
//   - The daemon runs RunAll before picking up a storyboard. If any check
//     fails, the run is skipped to avoid burning provider credits on a run
//     that cannot finish.
//   - The CLI "montage status" command uses the individual check functions to
//     display service health.
package preflight
