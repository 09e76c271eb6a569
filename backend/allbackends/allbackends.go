// Package allbackends registers every gpusort backend.
//
// Import it for side effects:
//
//	import _ "github.com/gogpu/gpusort/backend/allbackends"
//
// gpusort.New then prefers the native backend and falls back to the
// software backend when no hardware adapter is usable.
package allbackends

import (
	_ "github.com/gogpu/gpusort/backend/native"   // wgpu hardware adapters
	_ "github.com/gogpu/gpusort/backend/software" // emulated device
)
