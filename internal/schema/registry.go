// Package schema resolves compiled protobuf schema descriptors for destination tables.
//
// A destination table is bound to exactly one message schema inside a compiled
// FileDescriptorSet. Resolution happens once at startup: a missing file or
// message is a configuration error and the service must not start, it is never
// treated as a per-event failure.
package schema

import (
	"errors"
	"fmt"
	"os"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Sentinel errors for descriptor resolution.
var (
	// ErrInvalidDescriptorSet indicates the descriptor blob could not be decoded.
	ErrInvalidDescriptorSet = errors.New("invalid file descriptor set")

	// ErrFileNotFound indicates the named proto file is not part of the descriptor set.
	ErrFileNotFound = errors.New("file descriptor not found")

	// ErrMessageNotFound indicates the named message is not declared in the proto file.
	ErrMessageNotFound = errors.New("message descriptor not found")
)

// Registry holds a decoded descriptor set and resolves message schemas by
// file name and message name.
type Registry struct {
	files *protoregistry.Files
}

// NewRegistry decodes a compiled FileDescriptorSet and builds a resolvable registry.
//
// The input is the raw output of `protoc --descriptor_set_out`, either embedded
// in the binary or loaded from the path named by LAKEFEED_DESCRIPTOR_PATH.
func NewRegistry(descriptorSet []byte) (*Registry, error) {
	fds := &descriptorpb.FileDescriptorSet{}
	if err := proto.Unmarshal(descriptorSet, fds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptorSet, err)
	}

	files, err := protodesc.NewFiles(fds)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptorSet, err)
	}

	return &Registry{files: files}, nil
}

// NewRegistryFromFile reads a compiled descriptor set from disk and builds a registry.
func NewRegistryFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor set %q: %w", path, err)
	}

	return NewRegistry(data)
}

// Message resolves the schema of a table message by proto file name and message name.
//
// Example:
//
//	desc, err := registry.Message("lakefeed_tables.proto", "table_queue_messages")
func (r *Registry) Message(fileName, messageName string) (protoreflect.MessageDescriptor, error) {
	fd, err := r.files.FindFileByPath(fileName)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, fileName)
	}

	md := fd.Messages().ByName(protoreflect.Name(messageName))
	if md == nil {
		return nil, fmt.Errorf("%w: %s in %s", ErrMessageNotFound, messageName, fileName)
	}

	return md, nil
}
