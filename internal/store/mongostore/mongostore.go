// Package mongostore implements store.Repository on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/store"
)

type Store struct {
	client     *mongo.Client
	parts      *mongo.Collection
	categories *mongo.Collection
	orders     *mongo.Collection
	users      *mongo.Collection
}

func New(ctx context.Context, uri string, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	db := client.Database(database)
	return &Store{
		client:     client,
		parts:      db.Collection("parts"),
		categories: db.Collection("categories"),
		orders:     db.Collection("orders"),
		users:      db.Collection("users"),
	}, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the uniqueness and search indexes the store relies
// on. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []struct {
		coll   *mongo.Collection
		models []mongo.IndexModel
	}{
		{s.parts, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "partNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
			{
				Keys: bson.D{{Key: "user", Value: 1}, {Key: "barcode", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"barcode": bson.M{"$type": "string"}}),
			},
			{Keys: bson.D{
				{Key: "name", Value: "text"},
				{Key: "description", Value: "text"},
				{Key: "partNumber", Value: "text"},
				{Key: "barcode", Value: "text"},
			}},
		}},
		{s.categories, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
		{s.orders, []mongo.IndexModel{
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "orderNumber", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "user", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		}},
		{s.users, []mongo.IndexModel{
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateMany(ctx, idx.models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

func (s *Store) findParts(ctx context.Context, filter any, opts ...*options.FindOptions) ([]domain.Part, error) {
	cursor, err := s.parts.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	var docs []partDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	parts := make([]domain.Part, 0, len(docs))
	for _, d := range docs {
		p, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		parts = append(parts, p)
	}
	return parts, nil
}

func (s *Store) findOnePart(ctx context.Context, filter any) (*domain.Part, error) {
	var doc partDoc
	if err := s.parts.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	p, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

var byName = options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}})

func (s *Store) ListParts(ctx context.Context, owner string) ([]domain.Part, error) {
	return s.findParts(ctx, bson.M{"user": owner}, byName)
}

func (s *Store) GetPart(ctx context.Context, owner string, id string) (*domain.Part, error) {
	return s.findOnePart(ctx, bson.M{"_id": id, "user": owner})
}

func (s *Store) GetPartByBarcode(ctx context.Context, owner string, barcode string) (*domain.Part, error) {
	return s.findOnePart(ctx, bson.M{"user": owner, "barcode": barcode})
}

func (s *Store) GetPartsByIDs(ctx context.Context, owner string, ids []string) (map[string]domain.Part, error) {
	result := make(map[string]domain.Part, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	parts, err := s.findParts(ctx, bson.M{"user": owner, "_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) CreatePart(ctx context.Context, part domain.Part) (*domain.Part, error) {
	if part.ID == "" || part.Owner == "" {
		return nil, store.ErrInvalid
	}
	doc, err := newPartDoc(part)
	if err != nil {
		return nil, err
	}
	if _, err := s.parts.InsertOne(ctx, doc); err != nil {
		return nil, duplicate(err)
	}
	return &part, nil
}

func (s *Store) UpdatePart(ctx context.Context, part domain.Part) (*domain.Part, error) {
	doc, err := newPartDoc(part)
	if err != nil {
		return nil, err
	}
	set := bson.M{
		"name":         doc.Name,
		"description":  doc.Description,
		"category":     doc.Category,
		"buyingPrice":  doc.BuyingPrice,
		"sellingPrice": doc.SellingPrice,
		"quantity":     doc.Quantity,
		"minQuantity":  doc.MinQuantity,
		"manufacturer": doc.Manufacturer,
		"partNumber":   doc.PartNumber,
		"updatedAt":    doc.UpdatedAt,
	}
	update := bson.M{"$set": set}
	if doc.Barcode != nil {
		set["barcode"] = *doc.Barcode
	} else {
		update["$unset"] = bson.M{"barcode": ""}
	}

	var updated partDoc
	err = s.parts.FindOneAndUpdate(ctx,
		bson.M{"_id": part.ID, "user": part.Owner},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrDuplicate
		}
		return nil, notFound(err)
	}
	p, err := updated.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) DeletePart(ctx context.Context, owner string, id string) error {
	return deleteOwned(ctx, s.parts, owner, id)
}

func (s *Store) SearchParts(ctx context.Context, owner string, query string) ([]domain.Part, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Part{}, nil
	}
	score := bson.M{"$meta": "textScore"}
	opts := options.Find().
		SetProjection(bson.M{"score": score}).
		SetSort(bson.D{{Key: "score", Value: score}})
	return s.findParts(ctx, bson.M{"user": owner, "$text": bson.M{"$search": query}}, opts)
}

func (s *Store) ListLowStockParts(ctx context.Context, owner string) ([]domain.Part, error) {
	filter := bson.M{
		"user":  owner,
		"$expr": bson.M{"$lte": bson.A{"$quantity", "$minQuantity"}},
	}
	return s.findParts(ctx, filter, byName)
}

func (s *Store) AdjustPartQuantity(ctx context.Context, owner string, id string, delta int) (*domain.Part, error) {
	var doc partDoc
	err := s.parts.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "user": owner},
		bson.M{
			"$inc": bson.M{"quantity": delta},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	p, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) findCategories(ctx context.Context, filter any, opts ...*options.FindOptions) ([]domain.Category, error) {
	cursor, err := s.categories.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	var docs []categoryDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	categories := make([]domain.Category, 0, len(docs))
	for _, d := range docs {
		categories = append(categories, d.toDomain())
	}
	return categories, nil
}

func (s *Store) ListCategories(ctx context.Context, owner string) ([]domain.Category, error) {
	return s.findCategories(ctx, bson.M{"user": owner}, byName)
}

func (s *Store) GetCategory(ctx context.Context, owner string, id string) (*domain.Category, error) {
	var doc categoryDoc
	if err := s.categories.FindOne(ctx, bson.M{"_id": id, "user": owner}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	c := doc.toDomain()
	return &c, nil
}

func (s *Store) GetCategoriesByIDs(ctx context.Context, owner string, ids []string) (map[string]domain.Category, error) {
	result := make(map[string]domain.Category, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	categories, err := s.findCategories(ctx, bson.M{"user": owner, "_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	for _, c := range categories {
		result[c.ID] = c
	}
	return result, nil
}

func (s *Store) CreateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	if category.ID == "" || category.Owner == "" {
		return nil, store.ErrInvalid
	}
	if _, err := s.categories.InsertOne(ctx, newCategoryDoc(category)); err != nil {
		return nil, duplicate(err)
	}
	return &category, nil
}

func (s *Store) UpdateCategory(ctx context.Context, category domain.Category) (*domain.Category, error) {
	var doc categoryDoc
	err := s.categories.FindOneAndUpdate(ctx,
		bson.M{"_id": category.ID, "user": category.Owner},
		bson.M{"$set": bson.M{
			"name":        category.Name,
			"description": category.Description,
			"updatedAt":   category.UpdatedAt,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrDuplicate
		}
		return nil, notFound(err)
	}
	c := doc.toDomain()
	return &c, nil
}

func (s *Store) DeleteCategory(ctx context.Context, owner string, id string) error {
	return deleteOwned(ctx, s.categories, owner, id)
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ID == "" || order.Owner == "" || len(order.Items) == 0 {
		return nil, store.ErrInvalid
	}
	doc, err := newOrderDoc(order)
	if err != nil {
		return nil, err
	}
	if _, err := s.orders.InsertOne(ctx, doc); err != nil {
		return nil, duplicate(err)
	}
	return &order, nil
}

var newestFirst = options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})

func (s *Store) findOrders(ctx context.Context, filter any) ([]domain.Order, error) {
	cursor, err := s.orders.Find(ctx, filter, newestFirst)
	if err != nil {
		return nil, err
	}
	var docs []orderDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, d := range docs {
		o, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (s *Store) ListOrders(ctx context.Context, owner string) ([]domain.Order, error) {
	return s.findOrders(ctx, bson.M{"user": owner})
}

func (s *Store) GetOrder(ctx context.Context, owner string, id string) (*domain.Order, error) {
	var doc orderDoc
	if err := s.orders.FindOne(ctx, bson.M{"_id": id, "user": owner}).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	o, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) UpdateOrder(ctx context.Context, owner string, id string, update domain.OrderUpdate) (*domain.Order, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if update.Status != nil {
		set["status"] = string(*update.Status)
	}
	if update.PaymentMethod != nil {
		set["paymentMethod"] = string(*update.PaymentMethod)
	}
	if update.CashReceived != nil {
		v, err := toDecimal128(*update.CashReceived)
		if err != nil {
			return nil, err
		}
		set["cashReceived"] = v
	}
	if update.ChangeAmount != nil {
		v, err := toDecimal128(*update.ChangeAmount)
		if err != nil {
			return nil, err
		}
		set["changeAmount"] = v
	}

	var doc orderDoc
	err := s.orders.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "user": owner},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	o, err := doc.toDomain()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) ListCompletedOrders(ctx context.Context, owner string, from time.Time, to time.Time) ([]domain.Order, error) {
	return s.findOrders(ctx, bson.M{
		"user":      owner,
		"status":    string(domain.OrderCompleted),
		"createdAt": bson.M{"$gte": from, "$lte": to},
	})
}

func (s *Store) CreateUser(ctx context.Context, user domain.User) error {
	if user.ID == "" {
		return store.ErrInvalid
	}
	user.Email = strings.ToLower(user.Email)
	if _, err := s.users.InsertOne(ctx, newUserDoc(user)); err != nil {
		return duplicate(err)
	}
	return nil
}

func (s *Store) findOneUser(ctx context.Context, filter any) (*domain.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, notFound(err)
	}
	u := doc.toDomain()
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.findOneUser(ctx, bson.M{"_id": id})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findOneUser(ctx, bson.M{"email": strings.ToLower(email)})
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	return s.findOneUser(ctx, bson.M{"username": username})
}

func (s *Store) ListUsers(ctx context.Context, status domain.UserStatus) ([]domain.User, error) {
	filter := bson.M{}
	if status != "" {
		filter["status"] = string(status)
	}
	cursor, err := s.users.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(docs))
	for _, d := range docs {
		users = append(users, d.toDomain())
	}
	return users, nil
}

func (s *Store) UpdateUserStatus(ctx context.Context, id string, status domain.UserStatus) (*domain.User, error) {
	var doc userDoc
	err := s.users.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"status": string(status)}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return nil, notFound(err)
	}
	u := doc.toDomain()
	return &u, nil
}

func deleteOwned(ctx context.Context, coll *mongo.Collection, owner string, id string) error {
	res, err := coll.DeleteOne(ctx, bson.M{"_id": id, "user": owner})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	return err
}

func duplicate(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrDuplicate
	}
	return err
}
