package strata

import (
	"fmt"
	"strings"
	"time"
)

// ValueType is the closed set of value types a column can advertise.
type ValueType int

const (
	ValueTypeLong ValueType = iota
	ValueTypeFloat
	ValueTypeString
	ValueTypeComplex
)

// String returns the canonical upper-case name of the value type.
func (v ValueType) String() string {
	switch v {
	case ValueTypeLong:
		return "LONG"
	case ValueTypeFloat:
		return "FLOAT"
	case ValueTypeString:
		return "STRING"
	case ValueTypeComplex:
		return "COMPLEX"
	default:
		return fmt.Sprintf("ValueType(%d)", int(v))
	}
}

// ParseValueType maps a case-insensitive name ("long", "FLOAT", ...) to a ValueType.
func ParseValueType(name string) (ValueType, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "LONG":
		return ValueTypeLong, nil
	case "FLOAT":
		return ValueTypeFloat, nil
	case "STRING":
		return ValueTypeString, nil
	case "COMPLEX":
		return ValueTypeComplex, nil
	default:
		return 0, NewStrataError(ErrorTypeValidation, ErrCodeUnknownValueType,
			fmt.Sprintf("unknown value type %q", name))
	}
}

// ColumnCapabilities is the self-description a column hands to its consumers.
// Consumers pick an access path from it and never downcast the column.
type ColumnCapabilities struct {
	Type            ValueType `json:"type"`
	HasDictionary   bool      `json:"hasDictionary"`
	HasBitmapIndex  bool      `json:"hasBitmapIndex"`
	HasSpatialIndex bool      `json:"hasSpatialIndex"`
	HasNulls        bool      `json:"hasNulls"`
}

// Worker identifies a remote task executor.
type Worker struct {
	Host     string `json:"host"`
	IP       string `json:"ip"`
	Capacity int    `json:"capacity"`
	Version  string `json:"version"`
}

// WorkerState is the lifecycle of a worker as seen by the scaler.
type WorkerState string

const (
	WorkerStateUnknown        WorkerState = "UNKNOWN"
	WorkerStateIdle           WorkerState = "IDLE"
	WorkerStateBusy           WorkerState = "BUSY"
	WorkerStateDrainCandidate WorkerState = "DRAIN_CANDIDATE"
	WorkerStateTerminated     WorkerState = "TERMINATED"
)

// Instance is a provider-native compute node record.
type Instance struct {
	InstanceID       string    `json:"instanceId"`
	LaunchTime       time.Time `json:"launchTime"`
	ImageID          string    `json:"imageId"`
	PrivateIPAddress string    `json:"privateIpAddress"`
	PrivateDNSName   string    `json:"privateDnsName,omitempty"`
	InstanceType     string    `json:"instanceType,omitempty"`
	State            string    `json:"state,omitempty"`
}

// Reservation groups instances launched by a single provider call.
type Reservation struct {
	ReservationID string     `json:"reservationId"`
	Instances     []Instance `json:"instances"`
}

// LaunchRequest asks the provider for between MinCount and MaxCount instances.
type LaunchRequest struct {
	ImageID          string
	InstanceType     string
	MinCount         int
	MaxCount         int
	ClientToken      string
	SubnetID         string
	SecurityGroupIDs []string
	KeyName          string
	UserData         string
	Tags             map[string]string
}

// InstanceFilter narrows a describe call. Name follows the provider's filter
// vocabulary, e.g. "private-ip-address" or "tag:Name".
type InstanceFilter struct {
	Name   string
	Values []string
}

// AutoScalingData is the outcome of a provision or terminate call. NodeIDs and
// Nodes are parallel slices.
type AutoScalingData struct {
	NodeIDs   []string   `json:"nodeIds"`
	Nodes     []Instance `json:"nodes"`
	Requested int        `json:"requested"`
}

// EmptyAutoScalingData returns a result with no nodes.
func EmptyAutoScalingData() *AutoScalingData {
	return &AutoScalingData{NodeIDs: []string{}, Nodes: []Instance{}}
}

// Len returns the number of nodes in the result.
func (d *AutoScalingData) Len() int {
	if d == nil {
		return 0
	}
	return len(d.NodeIDs)
}

// IsEmpty reports whether the result carries no nodes.
func (d *AutoScalingData) IsEmpty() bool {
	return d.Len() == 0
}

// Partial reports whether fewer nodes than requested were obtained, but at least one.
func (d *AutoScalingData) Partial() bool {
	if d == nil {
		return false
	}
	return len(d.Nodes) > 0 && len(d.Nodes) < d.Requested
}

// NodeID formats the externally visible identifier of a worker node.
func NodeID(ip, port string) string {
	return ip + ":" + port
}
