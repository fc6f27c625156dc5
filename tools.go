//go:build tools
// +build tools

// Package tools declares tool dependencies for this module.
//
// mockgen regenerates mocks/ from contract/contract.go through go generate.
// Importing it here keeps it pinned in go.mod and go.sum.
package shm_chat

import (
	_ "go.uber.org/mock/mockgen"
)
