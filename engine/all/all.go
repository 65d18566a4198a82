// Package all registers every built-in engine. Import it for its side
// effects.
package all

import (
	// engines
	_ "github.com/monosocket/monosocket/engine/ipc"
	_ "github.com/monosocket/monosocket/engine/tcp"
	_ "github.com/monosocket/monosocket/engine/ws"
)
