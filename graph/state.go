package graph

// Reducer is defined in engine.go.
