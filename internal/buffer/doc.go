// Package buffer stores captured payloads (command output, screenshots as
// bytes) under a count and size budget.
//
// Payloads are gzip compressed when requested or when they cross the
// configured threshold; Get decompresses transparently and updates access
// metadata. The store never grows past MaxTotalBuffers: reaching the cap
// runs an eviction pass before the new entry is inserted, dropping expired
// entries first and then the least recently accessed half. Rotate applies
// the age policy on demand, and AggressiveClear is the memory-pressure
// escape hatch that keeps only the five hottest entries.
package buffer
