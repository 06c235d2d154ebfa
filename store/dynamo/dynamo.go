// Package dynamo implements Store on DynamoDB. The shared document is one
// item whose Version attribute guards every write through a condition
// expression; identity documents are unconditional items in the same table.
//
// Table shape: partition key DocumentID (S). Shared rows live at
// "shared#<id>", identities at "identity#<identity>". The top-level ExpiresAt
// attribute carries the latest entry expiry so a table TTL policy can reclaim
// rows whose content has fully lapsed.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/caarlos0/env/v11"

	"github.com/unkn0wn-root/skycache/store"
)

var _ store.Store = (*Store)(nil)

const attrDocumentID = "DocumentID"

// api is the slice of the DynamoDB client this store calls. Tests substitute
// a fake.
type api interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type Config struct {
	// Table is the DynamoDB table name.
	Table string `env:"SKYCACHE_DYNAMO_TABLE"`
	// Region is used by NewClient; an empty value defers to the AWS SDK's
	// own resolution chain.
	Region string `env:"SKYCACHE_AWS_REGION"`
	// Logger reports recovered corruption. Nil means NopLogger.
	Logger store.Logger
}

// FromEnv fills a Config from SKYCACHE_* environment variables.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("dynamo store: parse env: %w", err)
	}
	return cfg, nil
}

// NewClient builds a DynamoDB client from the default AWS config chain.
func NewClient(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamo store: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg), nil
}

type Store struct {
	api   api
	table string
	log   store.Logger
}

func New(client *dynamodb.Client, cfg Config) (*Store, error) {
	return newStore(client, cfg)
}

func newStore(c api, cfg Config) (*Store, error) {
	if c == nil {
		return nil, errors.New("dynamo store: nil client")
	}
	if cfg.Table == "" {
		return nil, errors.New("dynamo store: empty table name")
	}
	log := cfg.Logger
	if log == nil {
		log = store.NopLogger{}
	}
	return &Store{api: c, table: cfg.Table, log: log}, nil
}

type entryRecord struct {
	Payload   map[string]any `dynamodbav:"Payload"`
	ExpiresAt int64          `dynamodbav:"ExpiresAt"`
}

type sharedRecord struct {
	DocumentID string                            `dynamodbav:"DocumentID"`
	Version    int64                             `dynamodbav:"Version"`
	Attributes map[string]map[string]entryRecord `dynamodbav:"Attributes,omitempty"`
	ExpiresAt  int64                             `dynamodbav:"ExpiresAt,omitempty"`
}

type identityRecord struct {
	DocumentID string         `dynamodbav:"DocumentID"`
	Identity   string         `dynamodbav:"Identity"`
	Settings   map[string]any `dynamodbav:"Settings,omitempty"`
}

func sharedKey(id string) string         { return "shared#" + id }
func identityKey(identity string) string { return "identity#" + identity }

func (s *Store) FetchShared(ctx context.Context, id string) (*store.SharedDocument, bool, error) {
	// consistent read: the OCC loop must merge against committed state or
	// retries clobber concurrent writers
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(sharedKey(id)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, s.wrap("fetch shared", err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	var rec sharedRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		// salvage the version so the next write can replace the corrupt
		// attributes instead of fighting the condition expression forever
		ver := salvageVersion(out.Item)
		s.log.Warn("skycache: malformed shared record, treating entries as empty", store.Fields{
			"documentId": id,
			"version":    ver,
			"err":        err.Error(),
		})
		if ver == 0 {
			return nil, false, nil
		}
		doc := store.NewSharedDocument(id)
		doc.Version = ver
		return doc, true, nil
	}

	doc := store.NewSharedDocument(id)
	doc.Version = rec.Version
	for cat, keys := range rec.Attributes {
		for k, e := range keys {
			doc.SetEntry(cat, k, store.Entry{Payload: e.Payload, ExpiresAt: e.ExpiresAt})
		}
	}
	return doc, true, nil
}

func (s *Store) StoreSharedIf(ctx context.Context, doc *store.SharedDocument, expected int64) error {
	rec := sharedRecord{
		DocumentID: sharedKey(doc.ID),
		Version:    expected + 1,
		ExpiresAt:  doc.MaxExpiresAt(),
	}
	if len(doc.Entries) > 0 {
		rec.Attributes = make(map[string]map[string]entryRecord, len(doc.Entries))
		for cat, keys := range doc.Entries {
			m := make(map[string]entryRecord, len(keys))
			for k, e := range keys {
				m[k] = entryRecord{Payload: e.Payload, ExpiresAt: e.ExpiresAt}
			}
			rec.Attributes[cat] = m
		}
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("dynamo store: encode shared %q: %w", doc.ID, err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}
	if expected == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(" + attrDocumentID + ")")
	} else {
		input.ConditionExpression = aws.String("Version = :expected")
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)},
		}
	}

	if _, err := s.api.PutItem(ctx, input); err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			return fmt.Errorf("dynamo store: store shared %q: %w", doc.ID, store.ErrVersionConflict)
		}
		return s.wrap("store shared", err)
	}
	return nil
}

func (s *Store) FetchIdentity(ctx context.Context, identity string) (*store.IdentityDocument, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(identityKey(identity)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, false, s.wrap("fetch identity", err)
	}
	if len(out.Item) == 0 {
		return nil, false, nil
	}

	var rec identityRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		s.log.Warn("skycache: malformed identity record", store.Fields{
			"identity": identity,
			"err":      err.Error(),
		})
		return nil, false, nil
	}
	if rec.Identity == "" {
		rec.Identity = identity
	}
	return &store.IdentityDocument{Identity: rec.Identity, Settings: rec.Settings}, true, nil
}

func (s *Store) StoreIdentity(ctx context.Context, doc *store.IdentityDocument) error {
	item, err := attributevalue.MarshalMap(identityRecord{
		DocumentID: identityKey(doc.Identity),
		Identity:   doc.Identity,
		Settings:   doc.Settings,
	})
	if err != nil {
		return fmt.Errorf("dynamo store: encode identity %q: %w", doc.Identity, err)
	}
	if _, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	}); err != nil {
		return s.wrap("store identity", err)
	}
	return nil
}

func (s *Store) Close(context.Context) error { return nil }

func itemKey(documentID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrDocumentID: &types.AttributeValueMemberS{Value: documentID},
	}
}

func salvageVersion(item map[string]types.AttributeValue) int64 {
	n, ok := item["Version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func (s *Store) wrap(op string, err error) error {
	if isTransient(err) {
		return fmt.Errorf("dynamo store: %s: %w: %w", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("dynamo store: %s: %w", op, err)
}

// isTransient reports whether err is worth a caller-level retry: throttling,
// server faults, or anything that never produced an API response.
// Client-side faults (missing table, bad credentials) are configuration
// problems and stay un-tagged.
func isTransient(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch apiErr.(type) {
	case *types.ProvisionedThroughputExceededException,
		*types.RequestLimitExceeded,
		*types.InternalServerError:
		return true
	}
	return apiErr.ErrorFault() == smithy.FaultServer
}
