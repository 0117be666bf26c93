package rpc

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Procedure names of the object service and the control plane.
const (
	ProcGetObject             = "frugalos.object.get"
	ProcHeadObject            = "frugalos.object.head"
	ProcPutObject             = "frugalos.object.put"
	ProcDeleteObject          = "frugalos.object.delete"
	ProcListObjects           = "frugalos.object.list"
	ProcLatestVersion         = "frugalos.object.latest_version"
	ProcDeleteObjectByVersion = "frugalos.object.delete_by_version"
	ProcDeleteObjectsByRange  = "frugalos.object.delete_by_range"
	ProcDeleteObjectsByPrefix = "frugalos.object.delete_by_prefix"
	ProcInspectDevice         = "frugalos.device.inspect_physical_device"
	ProcStop                  = "frugalos.ctrl.stop"
	ProcTakeSnapshot          = "frugalos.ctrl.take_snapshot"
)

// ErrUnknownProcedure is returned for a procedure name or id the table does
// not carry.
var ErrUnknownProcedure = errors.New("unknown procedure")

// ProcedureTable maps procedure names to the numeric ids peers agree on.
// It is configuration: a node and its clients must load the same table.
type ProcedureTable struct {
	byName map[string]uint32
	byID   map[uint32]string
}

// DefaultProcedures returns the table used when configuration names none.
func DefaultProcedures() map[string]uint32 {
	return map[string]uint32{
		ProcGetObject:             0x0009_0000,
		ProcHeadObject:            0x0009_0001,
		ProcPutObject:             0x0009_0002,
		ProcDeleteObject:          0x0009_0003,
		ProcListObjects:           0x0009_0004,
		ProcLatestVersion:         0x0009_0005,
		ProcDeleteObjectByVersion: 0x0009_0006,
		ProcDeleteObjectsByRange:  0x0009_0007,
		ProcDeleteObjectsByPrefix: 0x0009_0009,
		ProcStop:                  0x000a_0000,
		ProcTakeSnapshot:          0x000a_0001,
		ProcInspectDevice:         0x000b_0001,
	}
}

// NewProcedureTable builds a table from a name to id mapping. Ids must be
// unique.
func NewProcedureTable(procs map[string]uint32) (*ProcedureTable, error) {
	t := &ProcedureTable{
		byName: make(map[string]uint32, len(procs)),
		byID:   make(map[uint32]string, len(procs)),
	}
	for name, id := range procs {
		if strings.TrimSpace(name) == "" {
			return nil, errors.New("procedure with empty name")
		}
		if other, dup := t.byID[id]; dup {
			return nil, fmt.Errorf("procedures %s and %s share id 0x%08x", other, name, id)
		}
		t.byName[name] = id
		t.byID[id] = name
	}
	return t, nil
}

// ID returns the id of a procedure.
func (t *ProcedureTable) ID(name string) (uint32, error) {
	id, ok := t.byName[name]
	if !ok {
		return 0, fmt.Errorf("procedure %q: %w", name, ErrUnknownProcedure)
	}
	return id, nil
}

// Name returns the procedure registered under id.
func (t *ProcedureTable) Name(id uint32) (string, error) {
	name, ok := t.byID[id]
	if !ok {
		return "", fmt.Errorf("procedure 0x%08x: %w", id, ErrUnknownProcedure)
	}
	return name, nil
}

// Names returns the registered procedure names in ascending order.
func (t *ProcedureTable) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
