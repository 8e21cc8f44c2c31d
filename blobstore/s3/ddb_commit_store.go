package s3

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/geofuse/blobstore"
)

// CurrentName is the blob name whose writes go through DynamoDB.
const CurrentName = "CURRENT"

// ErrConcurrentModification is returned when another writer committed the
// same version first.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Commit is one row of the commit log: a run made current.
type Commit struct {
	Version     uint64
	Manifest    string
	RunID       string
	CommittedAt time.Time
}

// DDBCommitStore is an S3 store whose CURRENT blob lives in a DynamoDB
// table instead of S3, so several fusers can archive runs into the same
// prefix.
//
// Each write of CURRENT inserts the next version row with a conditional
// put; of two writers racing for a version exactly one wins and the other
// gets ErrConcurrentModification. The rows double as a log of committed
// runs, see History.
//
// Table schema:
//   - Partition key: base_uri (string), the archive's S3 location
//   - Sort key: version (number)
//
//	aws dynamodb create-table \
//	  --table-name geofuse-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	*Store

	ddb     DDBClient
	table   string
	baseURI string
	now     func() time.Time
}

// NewDDBCommitStore wraps s3Store. baseURI ("s3://bucket/prefix") is the
// partition key, so archives sharing a table stay independent.
func NewDDBCommitStore(s3Store *Store, ddb DDBClient, table, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		Store:   s3Store,
		ddb:     ddb,
		table:   table,
		baseURI: baseURI,
		now:     time.Now,
	}
}

// Open serves CURRENT from the latest commit and everything else from S3.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name != CurrentName {
		return s.Store.Open(ctx, name)
	}

	c, err := s.Latest(ctx)
	if err != nil {
		return nil, err
	}
	if c.Version == 0 {
		return nil, blobstore.ErrNotFound
	}
	return blobstore.NewBytesBlob([]byte(c.Manifest)), nil
}

// Put commits CURRENT to DynamoDB and writes everything else to S3.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name != CurrentName {
		return s.Store.Put(ctx, name, data)
	}

	latest, err := s.Latest(ctx)
	if err != nil {
		return err
	}
	return s.commit(ctx, Commit{
		Version:     latest.Version + 1,
		Manifest:    string(data),
		RunID:       path.Base(path.Dir(string(data))),
		CommittedAt: s.now().UTC(),
	})
}

// Latest returns the newest commit. A zero Version means nothing has been
// committed.
func (s *DDBCommitStore) Latest(ctx context.Context) (Commit, error) {
	commits, err := s.History(ctx, 1)
	if err != nil || len(commits) == 0 {
		return Commit{}, err
	}
	return commits[0], nil
}

// History returns up to limit commits, newest first. limit <= 0 returns the
// first page DynamoDB hands back.
func (s *DDBCommitStore) History(ctx context.Context, limit int) ([]Commit, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.table),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(min(limit, 1<<30)))
	}

	resp, err := s.ddb.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("query commit log: %w", err)
	}

	commits := make([]Commit, 0, len(resp.Items))
	for _, item := range resp.Items {
		c, err := decodeCommit(item)
		if err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, nil
}

func (s *DDBCommitStore) commit(ctx context.Context, c Commit) error {
	_, err := s.ddb.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item: map[string]types.AttributeValue{
			"base_uri":      &types.AttributeValueMemberS{Value: s.baseURI},
			"version":       &types.AttributeValueMemberN{Value: strconv.FormatUint(c.Version, 10)},
			"manifest_path": &types.AttributeValueMemberS{Value: c.Manifest},
			"run_id":        &types.AttributeValueMemberS{Value: c.RunID},
			"committed_at":  &types.AttributeValueMemberS{Value: c.CommittedAt.Format(time.RFC3339Nano)},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})

	var condErr *types.ConditionalCheckFailedException
	switch {
	case errors.As(err, &condErr):
		return ErrConcurrentModification
	case err != nil:
		return fmt.Errorf("commit version %d: %w", c.Version, err)
	}
	return nil
}

func decodeCommit(item map[string]types.AttributeValue) (Commit, error) {
	str := func(key string) (string, bool) {
		v, ok := item[key].(*types.AttributeValueMemberS)
		if !ok {
			return "", false
		}
		return v.Value, true
	}

	n, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return Commit{}, errors.New("commit log: row without a numeric version")
	}
	version, err := strconv.ParseUint(n.Value, 10, 64)
	if err != nil {
		return Commit{}, fmt.Errorf("commit log: version %q: %w", n.Value, err)
	}

	c := Commit{Version: version}
	if c.Manifest, ok = str("manifest_path"); !ok {
		return Commit{}, fmt.Errorf("commit log: version %d has no manifest_path", version)
	}
	// Rows written before run IDs were recorded carry only the manifest.
	if c.RunID, ok = str("run_id"); !ok {
		c.RunID = path.Base(path.Dir(c.Manifest))
	}
	if ts, ok := str("committed_at"); ok {
		if c.CommittedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return Commit{}, fmt.Errorf("commit log: version %d: %w", version, err)
		}
	}
	return c, nil
}
