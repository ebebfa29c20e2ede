package bowlvolume

import "github.com/biotinker/bowlvolume/volume"

// Config holds all configuration for the bowl-volume estimation pipeline,
// grouped by pipeline stage.
type Config struct {
	BackProject volume.BackProjectConfig
	MeshPrep    volume.MeshPrepConfig
	ICP         volume.ICPConfig
	RayCast     volume.RayCastConfig
	Volume      volume.VolumeConfig

	// Logger receives stage-diagnostic messages (back-projection and
	// canonicalization summaries, one final ICP summary, the volume result,
	// and warnings). Per-iteration ICP progress and BVH build statistics
	// are not logged. A nil Logger disables logging entirely.
	Logger Logger
}

// DefaultConfig returns a Config with conservative defaults tuned for a
// short-range active-stereo depth sensor observing a tabletop bowl.
func DefaultConfig() Config {
	return Config{
		BackProject: volume.DefaultBackProjectConfig(),
		MeshPrep:    volume.DefaultMeshPrepConfig(),
		ICP:         volume.DefaultICPConfig(),
		RayCast:     volume.DefaultRayCastConfig(),
		Volume:      volume.DefaultVolumeConfig(),
	}
}
