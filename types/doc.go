// Package types provides the shared type definitions for the render cache
// subsystem: tokens, characters, projects, generation options and the
// collaborator interfaces (surfaces, image loading, asset lookup).
//
// types is the lowest-level package and depends on nothing internal, so any
// other package can import it without cycles.
package types
