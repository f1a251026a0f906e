package network

import (
	"fmt"

	"chesscoachd/pkg/types"
)

// Networks owns the two Network instances sharing one mutable name.
// Setting the name retargets which on-disk network family is active and
// wholesale-invalidates both caches.
type Networks struct {
	guards  *Guards
	teacher *Network
	student *Network
}

// NewNetworks builds the teacher/student pair from their configs. Both
// configs must share the same Guards and start with the same name.
func NewNetworks(name string, guards *Guards, teacherCfg, studentCfg Config) *Networks {
	teacherCfg.Type = types.Teacher
	teacherCfg.Name = name
	teacherCfg.Guards = guards
	studentCfg.Type = types.Student
	studentCfg.Name = name
	studentCfg.Guards = guards
	return &Networks{
		guards:  guards,
		teacher: New(teacherCfg),
		student: New(studentCfg),
	}
}

// Teacher returns the teacher network.
func (ns *Networks) Teacher() *Network { return ns.teacher }

// Student returns the student network.
func (ns *Networks) Student() *Network { return ns.student }

// Get returns the network for a type.
func (ns *Networks) Get(t types.NetworkType) (*Network, error) {
	switch t {
	case types.Teacher:
		return ns.teacher, nil
	case types.Student:
		return ns.student, nil
	default:
		return nil, fmt.Errorf("network: unknown network type %q", t)
	}
}

// Name returns the active network family name.
func (ns *Networks) Name() string { return ns.teacher.Name() }

// SetName switches both networks to a new on-disk family and clears
// every cache. It serializes against in-flight prediction ensures by
// taking every ensure lock plus the creation lock; the next access
// lazily rebuilds from the new name's checkpoints, or from scratch if
// none exist.
func (ns *Networks) SetName(name string) {
	for i := range ns.guards.ensure {
		ns.guards.ensure[i].Lock()
		defer ns.guards.ensure[i].Unlock()
	}
	ns.guards.creation.Lock()
	defer ns.guards.creation.Unlock()

	ns.teacher.setName(name)
	ns.student.setName(name)
}

// PredictCommentaryBatch routes commentary through the teacher network
// regardless of which network initiated the call: commentary is a
// teacher-only capability.
func (ns *Networks) PredictCommentaryBatch(images []float32, batchSize int) ([][]byte, error) {
	return ns.teacher.PredictCommentaryBatch(images, batchSize)
}
