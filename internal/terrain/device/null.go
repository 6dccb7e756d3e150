package device

import "errors"

var errCreateFailed = errors.New("device: mesh create failed")

// NullDevice counts resource traffic without touching any GPU. Used by the
// viewer binary in headless runs and by tests.
type NullDevice struct {
	next    MeshHandle
	alive   map[MeshHandle]int // handle -> vertex count
	Created int
	Drawn   int

	// FailCreates makes the next n CreateMesh calls fail. Tests use it to
	// exercise upload retry behavior.
	FailCreates int
	Err         error
}

func NewNullDevice() *NullDevice {
	return &NullDevice{alive: map[MeshHandle]int{}}
}

func (d *NullDevice) CreateMesh(vertices []float32, indices []uint32) (MeshHandle, error) {
	if d.FailCreates > 0 {
		d.FailCreates--
		if d.Err != nil {
			return 0, d.Err
		}
		return 0, errCreateFailed
	}
	d.next++
	d.alive[d.next] = len(vertices)
	d.Created++
	return d.next, nil
}

func (d *NullDevice) DrawMesh(h MeshHandle) {
	if _, ok := d.alive[h]; ok {
		d.Drawn++
	}
}

func (d *NullDevice) ReleaseMesh(h MeshHandle) {
	delete(d.alive, h)
}

// AliveMeshes reports how many meshes are currently resident.
func (d *NullDevice) AliveMeshes() int { return len(d.alive) }
