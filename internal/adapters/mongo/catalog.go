package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-marketplace/internal/domain"
	"github.com/robertarktes/ticket-marketplace/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository keeps the presentation side of an event: descriptive text, media
// URLs and display counters. Inventory lives in the transactional store.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID          uuid.UUID     `bson:"_id"`
	Name        string        `bson:"name"`
	Description string        `bson:"description"`
	Venue       string        `bson:"venue"`
	Date        time.Time     `bson:"date"`
	EventType   string        `bson:"event_type"`
	SeatingMode string        `bson:"seating_mode"`
	BannerURL   string        `bson:"banner_url"`
	Categories  []CategoryDoc `bson:"categories"`
	TicketsSold int64         `bson:"tickets_sold"`
	CreatedAt   time.Time     `bson:"created_at"`
	UpdatedAt   time.Time     `bson:"updated_at"`
}

type CategoryDoc struct {
	Name  string `bson:"name"`
	Code  string `bson:"code"`
	Price string `bson:"price"`
}

// NewEventDoc builds the catalog entry for an event the engine has just created.
func NewEventDoc(e *domain.Event, description, venue string) EventDoc {
	doc := EventDoc{
		ID:          e.ID,
		Name:        e.Name,
		Description: description,
		Venue:       venue,
		Date:        e.StartDate,
		EventType:   string(e.Type),
		SeatingMode: string(e.SeatingMode),
		BannerURL:   e.BannerURL,
	}
	for _, c := range e.Categories {
		doc.Categories = append(doc.Categories, CategoryDoc{Name: c.Name, Code: c.Code, Price: c.UnitPrice.String()})
	}
	return doc
}

func (c *CatalogRepository) GetEvent(ctx context.Context, id uuid.UUID) (*EventDoc, error) {
	var event EventDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if err == mongo.ErrNoDocuments {
		return nil, domain.ErrEventNotFound
	}
	if err != nil {
		c.logger.Error("failed to get event", err)
		return nil, err
	}
	return &event, nil
}

func (c *CatalogRepository) CreateEvent(ctx context.Context, event EventDoc) error {
	event.CreatedAt = time.Now()
	event.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, event)
	if err != nil {
		c.logger.Error("failed to create event", err)
		return err
	}
	return nil
}

// AddTicketsSold bumps the display counter once per key. Keys already applied are
// kept on the document, so a redelivered event matches nothing. The counter trails the
// transactional store and is not used for any availability decision.
func (c *CatalogRepository) AddTicketsSold(ctx context.Context, id uuid.UUID, key string, n int) error {
	_, err := c.coll.UpdateOne(
		ctx,
		bson.M{"_id": id, "counted_keys": bson.M{"$ne": key}},
		bson.M{
			"$inc":      bson.M{"tickets_sold": n},
			"$addToSet": bson.M{"counted_keys": key},
			"$set":      bson.M{"updated_at": time.Now()},
		},
		options.Update().SetUpsert(false),
	)
	if err != nil {
		c.logger.Error("failed to update tickets sold", err)
		return err
	}
	return nil
}
