package schema

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Built-in table schema identifiers. These match the shapes the encoder
// produces for the two supported trigger payloads.
const (
	// BuiltinFile is the proto file name of the built-in descriptor set.
	BuiltinFile = "lakefeed_tables.proto"

	// MessageQueueMessages is the table schema for queue-message batches.
	MessageQueueMessages = "table_queue_messages"

	// MessageRawInvocations is the table schema for generic invocation payloads.
	MessageRawInvocations = "table_raw_invocations"
)

const builtinPackage = "lakefeed"

// BuiltinDescriptorSet returns the compiled descriptor set for the built-in
// table schemas, serialized in the same FileDescriptorSet format produced by
// protoc. Deployments that ingest into custom tables override it with
// LAKEFEED_DESCRIPTOR_PATH; everything downstream only ever sees descriptor
// set bytes.
func BuiltinDescriptorSet() ([]byte, error) {
	return proto.Marshal(builtinFileDescriptorSet())
}

func builtinFileDescriptorSet() *descriptorpb.FileDescriptorSet {
	queueMessages := &descriptorpb.DescriptorProto{
		Name: proto.String(MessageQueueMessages),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalarField("message_id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("receipt_handle", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("body", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("md5_of_body", 4, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("md5_of_message_attributes", 5, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			mapField(MessageQueueMessages, "attributes", 6),
			mapField(MessageQueueMessages, "message_attributes", 7),
			scalarField("queue_arn", 8, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("aws_region", 9, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("ingested_at", 10, descriptorpb.FieldDescriptorProto_TYPE_INT64),
			scalarField("ingested_date", 11, descriptorpb.FieldDescriptorProto_TYPE_INT32),
		},
		NestedType: []*descriptorpb.DescriptorProto{
			mapEntry("AttributesEntry"),
			mapEntry("MessageAttributesEntry"),
		},
	}

	rawInvocations := &descriptorpb.DescriptorProto{
		Name: proto.String(MessageRawInvocations),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalarField("request_id", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("payload", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("context", 3, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("deadline", 4, descriptorpb.FieldDescriptorProto_TYPE_INT64),
			scalarField("ingested_at", 5, descriptorpb.FieldDescriptorProto_TYPE_INT64),
			scalarField("ingested_date", 6, descriptorpb.FieldDescriptorProto_TYPE_INT32),
		},
	}

	return &descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{
			{
				Name:        proto.String(BuiltinFile),
				Package:     proto.String(builtinPackage),
				Syntax:      proto.String("proto3"),
				MessageType: []*descriptorpb.DescriptorProto{queueMessages, rawInvocations},
			},
		},
	}
}

func scalarField(
	name string,
	number int32,
	fieldType descriptorpb.FieldDescriptorProto_Type,
) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(number),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:   fieldType.Enum(),
	}
}

// mapField declares a map<string, string> field. Map fields in descriptor
// form are repeated message fields referencing a nested map-entry type.
func mapField(parentMessage, name string, number int32) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum(),
		Type:     descriptorpb.FieldDescriptorProto_TYPE_MESSAGE.Enum(),
		TypeName: proto.String("." + builtinPackage + "." + parentMessage + "." + mapEntryName(name)),
	}
}

func mapEntry(name string) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{
		Name: proto.String(name),
		Field: []*descriptorpb.FieldDescriptorProto{
			scalarField("key", 1, descriptorpb.FieldDescriptorProto_TYPE_STRING),
			scalarField("value", 2, descriptorpb.FieldDescriptorProto_TYPE_STRING),
		},
		Options: &descriptorpb.MessageOptions{
			MapEntry: proto.Bool(true),
		},
	}
}

// mapEntryName derives the generated map-entry type name from a snake_case
// field name: "message_attributes" -> "MessageAttributesEntry".
func mapEntryName(fieldName string) string {
	out := make([]byte, 0, len(fieldName)+len("Entry"))
	upper := true

	for i := 0; i < len(fieldName); i++ {
		c := fieldName[i]
		if c == '_' {
			upper = true

			continue
		}

		if upper && c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}

		upper = false

		out = append(out, c)
	}

	return string(out) + "Entry"
}
