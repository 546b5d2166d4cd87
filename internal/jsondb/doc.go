// Package jsondb stores named collections of JSON records in a single file.
//
// # Overview
//
// A [DB] owns one JSON file. The file holds a [Document]: an object mapping
// collection names to arrays of records. [Collection] is a generic, typed view
// on one of those arrays offering create, read, update and delete by id.
//
// Nothing is cached: every operation reads the file fresh and every mutation
// rewrites it whole through [atomicfile.File], which replaces the file
// atomically.
//
// # Concurrency: Queued Read-Modify-Write
//
// Mutations run their read, change and write as one job on the file's writer
// queue, so concurrent mutations never lose each other's changes. Reads bypass
// the queue and observe either the previous or the next full document.
//
// Opening two DB values on the same path voids these guarantees; share one DB
// instead.
//
// # Records
//
// A record is any value encoding to a JSON object with a string "id" member.
// Ids are not checked for uniqueness: lookups, updates and deletes act on the
// first match in insertion order.
package jsondb
