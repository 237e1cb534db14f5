package faults

import (
	"fmt"
	"strings"
)

// Kind identifies one independent fault flag.
type Kind uint8

const (
	MotorLeft Kind = iota
	MotorRight
	MotorMow
	Battery
	LoraComm
	LoraData
	Stuck

	numKinds
)

var kindNames = map[Kind]string{
	MotorLeft:  "motor-left",
	MotorRight: "motor-right",
	MotorMow:   "motor-mow",
	Battery:    "battery",
	LoraComm:   "lora-comm",
	LoraData:   "lora-data",
	Stuck:      "stuck",
}

// All lists every fault kind in declaration order.
func All() []Kind {
	kinds := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

func (k Kind) Valid() bool {
	return k < numKinds
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Set is a fixed-size set of fault flags.  The zero value has no faults set.
type Set struct {
	flags [numKinds]bool
}

func (s *Set) Set(k Kind) {
	if !k.Valid() {
		return
	}
	s.flags[k] = true
}

func (s *Set) Clear(k Kind) {
	if !k.Valid() {
		return
	}
	s.flags[k] = false
}

// Assign sets or clears k according to active.
func (s *Set) Assign(k Kind, active bool) {
	if active {
		s.Set(k)
	} else {
		s.Clear(k)
	}
}

func (s *Set) IsSet(k Kind) bool {
	if !k.Valid() {
		return false
	}
	return s.flags[k]
}

func (s *Set) AnySet() bool {
	for _, f := range s.flags {
		if f {
			return true
		}
	}
	return false
}

// Active returns the kinds that are currently set, in declaration order.
func (s *Set) Active() []Kind {
	var active []Kind
	for k, f := range s.flags {
		if f {
			active = append(active, Kind(k))
		}
	}
	return active
}

func (s *Set) String() string {
	active := s.Active()
	if len(active) == 0 {
		return "none"
	}
	names := make([]string, len(active))
	for i, k := range active {
		names[i] = k.String()
	}
	return strings.Join(names, ",")
}
