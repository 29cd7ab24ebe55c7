// Package pipeline turns source media into cached frame artifacts. A source
// decodes once, then fans out across the configured display geometries; each
// geometry records its own success or failure so one bad target never hides
// the others.
package pipeline
