// Package duel implements the timed head-to-head voting contest.
//
// A duel pits two content items (sides A and B) against each other for a
// fixed voting window. Votes are one-per-user and atomic at the storage
// boundary. When the window passes, resolution either completes the duel
// (strict majority wins, an exact tie completes with no winner) or cancels
// it when participation stayed below the configured minimum. Terminal
// states are immutable; resolving an already-resolved duel returns the
// stored result.
package duel
