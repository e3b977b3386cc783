package schema

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bufbuild/protocompile"
	"github.com/goccy/go-json"
	"github.com/krobus00/market-feed-service/internal/constant"
	"github.com/krobus00/market-feed-service/internal/entity"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

const schemaFileName = "MarketDataFeedV3.proto"

//go:embed proto/MarketDataFeedV3.proto
var embeddedSchema string

// Registry loads the feed wire schema once and decodes inbound frames with it.
// It is safe for concurrent use once Initialize has returned.
type Registry struct {
	schemaPath string

	once    sync.Once
	initErr error
	root    protoreflect.MessageDescriptor

	jsonOptions protojson.MarshalOptions
}

// NewRegistry creates a registry backed by the schema file at schemaPath, or by
// the embedded schema when schemaPath is empty.
func NewRegistry(schemaPath string) *Registry {
	return &Registry{
		schemaPath:  strings.TrimSpace(schemaPath),
		jsonOptions: protojson.MarshalOptions{UseEnumNumbers: true},
	}
}

// Initialize compiles the schema. Only the first call does any work; later and
// concurrent calls return the first result.
func (r *Registry) Initialize(ctx context.Context) error {
	r.once.Do(func() {
		r.root, r.initErr = r.load(ctx)
		if r.initErr != nil {
			return
		}

		logrus.WithFields(logrus.Fields{
			"schema": r.source(),
			"root":   r.root.FullName(),
		}).Info("feed schema loaded")
	})

	return r.initErr
}

func (r *Registry) source() string {
	if r.schemaPath == "" {
		return "embedded:" + schemaFileName
	}
	return r.schemaPath
}

func (r *Registry) load(ctx context.Context) (protoreflect.MessageDescriptor, error) {
	src := embeddedSchema
	if r.schemaPath != "" {
		raw, err := os.ReadFile(r.schemaPath)
		if err != nil {
			return nil, fmt.Errorf("read feed schema %s: %w", r.schemaPath, err)
		}
		src = string(raw)
	}

	compiler := protocompile.Compiler{
		Resolver: &protocompile.SourceResolver{
			Accessor: protocompile.SourceAccessorFromMap(map[string]string{
				schemaFileName: src,
			}),
		},
	}

	files, err := compiler.Compile(ctx, schemaFileName)
	if err != nil {
		return nil, fmt.Errorf("compile feed schema %s: %w", r.source(), err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("compile feed schema %s: no file produced", r.source())
	}

	root := files[0].Messages().ByName(protoreflect.Name(constant.FeedRootMessage))
	if root == nil {
		return nil, fmt.Errorf("feed schema %s has no %s message", r.source(), constant.FeedRootMessage)
	}

	return root, nil
}

// Decode turns one binary frame into a DecodedFeedMessage. Every failure is
// wrapped with entity.ErrDecode.
func (r *Registry) Decode(rawFrame []byte) (*entity.DecodedFeedMessage, error) {
	if r.root == nil {
		return nil, entity.ErrSchemaNotInitialized
	}

	msg := dynamicpb.NewMessage(r.root)
	if err := proto.Unmarshal(rawFrame, msg); err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrDecode, err)
	}

	payload, err := r.jsonOptions.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrDecode, err)
	}

	decoded := &entity.DecodedFeedMessage{}
	if err := json.Unmarshal(payload, decoded); err != nil {
		return nil, fmt.Errorf("%w: %w", entity.ErrDecode, err)
	}

	return decoded, nil
}

// Encode builds a binary frame from the JSON mapping of the root message.
// feed-tail uses it to replay captured frames.
func (r *Registry) Encode(jsonFrame []byte) ([]byte, error) {
	if r.root == nil {
		return nil, entity.ErrSchemaNotInitialized
	}

	msg := dynamicpb.NewMessage(r.root)
	if err := protojson.Unmarshal(jsonFrame, msg); err != nil {
		return nil, fmt.Errorf("parse feed frame json: %w", err)
	}

	return proto.Marshal(msg)
}
