// Package engine applies manifests to a target.
//
// Applying happens in two steps. Plan opens the provider of every type in
// the manifest, checks that it is suitable for the target and fetches the
// current state of the declared resources with a single get per type. The
// result is one ral.Update per resource, classified as create, update,
// delete or noop.
//
// Apply hands the updates to the providers. Each type is one unit of work:
//
//  1. Pending updates are checked against the policy engine, if one is
//     configured. Denied updates are dropped and recorded; warnings are
//     logged.
//  2. The remaining updates go to the provider's set action in one call.
//     Providers that only implement update are called once per resource.
//  3. The changes the provider reported are recorded in the journal,
//     together with the resulting state of each resource unless the run is
//     a noop run.
//
// Units run concurrently up to the configured parallelism. A failing unit
// does not stop the others; its error is part of the Report, and the run is
// journaled as failed.
//
// Basic usage:
//
//	eng := engine.New(registry, runner,
//		engine.WithPolicy(policies),
//		engine.WithJournal(journal),
//	)
//	plan, err := eng.Plan(ctx, manifest)
//	if err != nil {
//		return err
//	}
//	report, err := eng.Apply(ctx, plan, noop)
package engine
