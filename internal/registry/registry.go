// Package registry is the client side of the coordination registry shared
// by storage nodes and the failure detector: a hierarchical namespace of
// byte records addressed by slash separated paths.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/devrev/ringkv/internal/model"
)

const (
	// RootPath is the namespace nodes register under
	RootPath = "/"
	// ReportPath holds the latest failure report
	ReportPath = "/fd"
)

// reserved children of RootPath that are not node records
var reserved = map[string]bool{
	"zookeeper":          true,
	path.Base(ReportPath): true,
}

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("registry record not found")

// ErrClosed is returned by a registry after Close
var ErrClosed = errors.New("registry closed")

// Registry is a hierarchical record store
type Registry interface {
	// Children returns the names of the direct children of p, sorted
	Children(ctx context.Context, p string) ([]string, error)
	Get(ctx context.Context, p string) ([]byte, error)
	// Set creates or replaces the record at p
	Set(ctx context.Context, p string, data []byte) error
	// Delete removes the record at p; removing an absent record is not an error
	Delete(ctx context.Context, p string) error
	Ping(ctx context.Context) error
	Close() error
}

// Clean normalizes p to an absolute slash path
func Clean(p string) string {
	return path.Clean("/" + p)
}

// split returns the parent and the last element of a cleaned path
func split(p string) (string, string) {
	p = Clean(p)
	return path.Dir(p), path.Base(p)
}

// NodePath returns the path a node registers under
func NodePath(name string) string {
	return path.Join(RootPath, name)
}

// RegisterNode writes the node's record
func RegisterNode(ctx context.Context, reg Registry, rec model.RegistryRecord) error {
	if rec.NodeName == "" || reserved[rec.NodeName] {
		return fmt.Errorf("invalid node name %q", rec.NodeName)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal registry record: %w", err)
	}
	if err := reg.Set(ctx, NodePath(rec.NodeName), data); err != nil {
		return fmt.Errorf("failed to register node %s: %w", rec.NodeName, err)
	}
	return nil
}

// UnregisterNode removes the node's record
func UnregisterNode(ctx context.Context, reg Registry, name string) error {
	return reg.Delete(ctx, NodePath(name))
}

// ListNodes returns the records of every registered node. If the children
// cannot be listed the error is returned with no records. Children that
// vanish or do not decode are skipped and reported together in the error
// alongside the records that did decode.
func ListNodes(ctx context.Context, reg Registry) ([]model.RegistryRecord, error) {
	names, err := reg.Children(ctx, RootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list registered nodes: %w", err)
	}

	records := make([]model.RegistryRecord, 0, len(names))
	var skipped *multierror.Error
	for _, name := range names {
		if reserved[name] {
			continue
		}
		data, err := reg.Get(ctx, NodePath(name))
		if err != nil {
			skipped = multierror.Append(skipped, fmt.Errorf("node %s: %w", name, err))
			continue
		}
		var rec model.RegistryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			skipped = multierror.Append(skipped, fmt.Errorf("node %s: failed to decode record: %w", name, err))
			continue
		}
		if rec.NodeName == "" {
			rec.NodeName = name
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].NodeName < records[j].NodeName })
	return records, skipped.ErrorOrNil()
}

// WriteFailureReport replaces the failure report record
func WriteFailureReport(ctx context.Context, reg Registry, failed []string, probed int) error {
	report := model.FailureReport{
		FailedNodes: failed,
		Probed:      probed,
		Timestamp:   time.Now().Unix(),
	}
	if report.FailedNodes == nil {
		report.FailedNodes = []string{}
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal failure report: %w", err)
	}
	return reg.Set(ctx, ReportPath, data)
}

// ReadFailureReport returns the last written failure report
func ReadFailureReport(ctx context.Context, reg Registry) (*model.FailureReport, error) {
	data, err := reg.Get(ctx, ReportPath)
	if err != nil {
		return nil, err
	}
	var report model.FailureReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to decode failure report: %w", err)
	}
	return &report, nil
}
