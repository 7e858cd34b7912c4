package models

import (
	"strings"
)

// Domain is the fixed surface every domain kind exposes. Kind interfaces embed
// it and add their business methods.
type Domain interface {
	// Init is called once per instance, before the instance is reachable
	// through the registry.
	Init() error
	DomainID() Identity
}

type DomainType int

const (
	UnknownDomain DomainType = iota
	FsDomain
	BlkDeviceDomain
	ShadowBlockDomain
	SchedulerDomain
	VfsDomain
	TaskDomain
	GpuDomain
	UartDomain
	NetDeviceDomain
	EmptyDeviceDomain
	LogDomain
)

var domainTypeNames = map[DomainType]string{
	UnknownDomain:     "UnknownDomain",
	FsDomain:          "FsDomain",
	BlkDeviceDomain:   "BlkDeviceDomain",
	ShadowBlockDomain: "ShadowBlockDomain",
	SchedulerDomain:   "SchedulerDomain",
	VfsDomain:         "VfsDomain",
	TaskDomain:        "TaskDomain",
	GpuDomain:         "GpuDomain",
	UartDomain:        "UartDomain",
	NetDeviceDomain:   "NetDeviceDomain",
	EmptyDeviceDomain: "EmptyDeviceDomain",
	LogDomain:         "LogDomain",
}

func (t DomainType) String() string {
	if name, ok := domainTypeNames[t]; ok {
		return name
	}
	return "UnknownDomain"
}

func (t DomainType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseDomainType accepts the type name with or without the "Domain" suffix,
// case-insensitively.
func ParseDomainType(name string) (DomainType, bool) {
	name = strings.ToLower(name)
	for t, s := range domainTypeNames {
		s = strings.ToLower(s)
		if name == s || name+"domain" == s {
			return t, t != UnknownDomain
		}
	}
	return UnknownDomain, false
}

// State is the lifecycle position of one logical domain.
type State int

const (
	Unloaded State = iota
	Loading
	Active
	Crashed
	Reloading
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Loading:
		return "loading"
	case Active:
		return "active"
	case Crashed:
		return "crashed"
	case Reloading:
		return "reloading"
	}
	return "invalid"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
