package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/pacer/pkg/enums/ticketstatus"
	"github.com/appetiteclub/pacer/services/kitchen/internal/kitchen"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ticketDocument is a ticket as stored. Active mirrors status <> SERVED so
// the partial unique index on reservation_id covers only open tickets.
type ticketDocument struct {
	kitchen.Ticket `bson:",inline"`
	Active         bool `bson:"active"`
}

type TicketRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     apt.Logger
	config     *apt.Config
}

var _ kitchen.TicketRepository = (*TicketRepo)(nil)

func NewTicketRepo(config *apt.Config, logger apt.Logger) *TicketRepo {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	return &TicketRepo{
		logger: logger,
		config: config,
	}
}

func (r *TicketRepo) Start(ctx context.Context) error {
	mongoURL, _ := r.config.GetString("db.mongo.url")
	if mongoURL == "" {
		mongoURL = "mongodb://localhost:27017"
	}

	dbName, _ := r.config.GetString("db.mongo.name")
	if dbName == "" {
		dbName = "pacer_kitchen"
	}

	clientOptions := options.Client().ApplyURI(mongoURL).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("cannot connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("cannot ping MongoDB: %w", err)
	}

	r.client = client
	r.collection = client.Database(dbName).Collection("tickets")

	if err := r.ensureIndexes(ctx); err != nil {
		return err
	}

	r.logger.Infof("Connected to MongoDB: %s, database: %s, collection: tickets", mongoURL, dbName)
	return nil
}

func (r *TicketRepo) ensureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "reservation_id", Value: 1}},
			Options: options.Index().
				SetName("reservation_active_unique").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{
			Keys: bson.D{
				{Key: "restaurant_id", Value: 1},
				{Key: "active", Value: 1},
				{Key: "target_fire_time", Value: 1},
			},
			Options: options.Index().SetName("restaurant_active_fire_time"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}},
			Options: options.Index().SetName("status"),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("cannot create ticket indexes: %w", err)
	}
	return nil
}

func (r *TicketRepo) Stop(ctx context.Context) error {
	if r.client != nil {
		if err := r.client.Disconnect(ctx); err != nil {
			return fmt.Errorf("cannot disconnect from MongoDB: %w", err)
		}
		r.logger.Info("Disconnected from MongoDB")
	}
	return nil
}

func (r *TicketRepo) Create(ctx context.Context, t *kitchen.Ticket) error {
	if t == nil {
		return fmt.Errorf("ticket cannot be nil")
	}

	doc := ticketDocument{Ticket: *t, Active: t.Active()}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("cannot insert ticket: %w", classify(err))
	}
	return nil
}

func (r *TicketRepo) Get(ctx context.Context, id kitchen.TicketID) (*kitchen.Ticket, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *TicketRepo) FindActiveByReservation(ctx context.Context, id kitchen.ReservationID) (*kitchen.Ticket, error) {
	t, err := r.findOne(ctx, bson.M{"reservation_id": id, "active": true})
	if errors.Is(err, kitchen.ErrTicketNotFound) {
		return nil, nil
	}
	return t, err
}

func (r *TicketRepo) findOne(ctx context.Context, filter bson.M) (*kitchen.Ticket, error) {
	var doc ticketDocument
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, kitchen.ErrTicketNotFound
		}
		return nil, fmt.Errorf("cannot find ticket: %w", classify(err))
	}
	return &doc.Ticket, nil
}

func (r *TicketRepo) ListActiveByRestaurant(ctx context.Context, restaurantID string, filter kitchen.TicketFilter) ([]kitchen.Ticket, error) {
	cursor, err := r.collection.Find(ctx, listQuery(restaurantID, filter), listOptions(filter))
	if err != nil {
		return nil, fmt.Errorf("cannot list tickets: %w", classify(err))
	}
	defer cursor.Close(ctx)

	var docs []ticketDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("cannot decode tickets: %w", classify(err))
	}

	tickets := make([]kitchen.Ticket, 0, len(docs))
	for _, doc := range docs {
		tickets = append(tickets, doc.Ticket)
	}
	return tickets, nil
}

func listQuery(restaurantID string, filter kitchen.TicketFilter) bson.M {
	query := bson.M{
		"restaurant_id": restaurantID,
		"active":        true,
	}
	if len(filter.Statuses) > 0 {
		query["status"] = bson.M{"$in": filter.Statuses}
	}
	return query
}

func listOptions(filter kitchen.TicketFilter) *options.FindOptions {
	opts := options.Find().
		SetSort(bson.D{
			{Key: "target_fire_time", Value: 1},
			{Key: "created_at", Value: 1},
		})

	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	return opts
}

func (r *TicketRepo) ListActiveRestaurants(ctx context.Context) ([]string, error) {
	values, err := r.collection.Distinct(ctx, "restaurant_id", bson.M{"active": true})
	if err != nil {
		return nil, fmt.Errorf("cannot list restaurants: %w", classify(err))
	}

	ids := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Update applies patch while the stored status still equals
// patch.ExpectedStatus.
func (r *TicketRepo) Update(ctx context.Context, id kitchen.TicketID, patch kitchen.TicketPatch) error {
	filter := bson.M{"_id": id}
	if patch.ExpectedStatus != "" {
		filter["status"] = patch.ExpectedStatus
	}

	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$set": patchFields(patch)})
	if err != nil {
		return fmt.Errorf("cannot update ticket: %w", classify(err))
	}
	if result.MatchedCount > 0 {
		return nil
	}

	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("cannot check ticket: %w", classify(err))
	}
	if n == 0 {
		return kitchen.ErrTicketNotFound
	}
	return kitchen.ErrStaleTicket
}

func patchFields(patch kitchen.TicketPatch) bson.M {
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	set := bson.M{
		"status":     patch.Status,
		"active":     patch.Status != ticketstatus.Statuses.Served.Code(),
		"updated_at": updatedAt,
	}
	if patch.FiredAt != nil {
		set["fired_at"] = *patch.FiredAt
	}
	if patch.ReadyAt != nil {
		set["ready_at"] = *patch.ReadyAt
	}
	if patch.ServedAt != nil {
		set["served_at"] = *patch.ServedAt
	}
	return set
}

// classify maps driver errors onto the store errors callers branch on.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return kitchen.ErrDuplicateTicket
	case mongo.IsTimeout(err), mongo.IsNetworkError(err),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, mongo.ErrClientDisconnected):
		return fmt.Errorf("%w: %w", kitchen.ErrStoreUnavailable, err)
	default:
		return err
	}
}
