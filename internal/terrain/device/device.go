// Package device abstracts the rendering device that owns GPU-resident
// chunk geometry. The real draw pipeline lives outside this module; the
// streaming core only needs to create, draw and release mesh resources.
// All Device methods have thread affinity: they must be called from the
// goroutine that owns the device context.
package device

// MeshHandle identifies one device-resident mesh. Zero is never a valid
// handle.
type MeshHandle uint64

type Device interface {
	// CreateMesh uploads interleaved vertex data and a triangle index list
	// and returns a handle to the resident resource.
	CreateMesh(vertices []float32, indices []uint32) (MeshHandle, error)
	// DrawMesh issues a draw for a previously created mesh.
	DrawMesh(h MeshHandle)
	// ReleaseMesh frees the resource. Releasing an unknown handle is a no-op.
	ReleaseMesh(h MeshHandle)
}
