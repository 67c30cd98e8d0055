package notify

import (
	"context"
	"errors"
	"time"

	"PPMall/data/database"
	"PPMall/module/identity"
	"PPMall/module/notify/model"
	"PPMall/tools/errs"
	"PPMall/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DefaultRetention = 30 * 24 * time.Hour

type table struct {
	name string
	coll *mongo.Collection
}

func (t table) GetTableName() string           { return t.name }
func (t table) Collection() *mongo.Collection { return t.coll }

var _ database.Table = table{}

// MongoStore 生产实现
type MongoStore struct {
	NotifyColl database.Table // notification
	ConvColl   database.Table // conversation
	MsgColl    database.Table // chat_message

	Retention time.Duration
	clock     func() time.Time
}

func NewMongoStore(db *mongo.Database, retention time.Duration) *MongoStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MongoStore{
		NotifyColl: table{model.NotificationCollection, db.Collection(model.NotificationCollection)},
		ConvColl:   table{model.ConversationCollection, db.Collection(model.ConversationCollection)},
		MsgColl:    table{model.ChatMessageCollection, db.Collection(model.ChatMessageCollection)},
		Retention:  retention,
		clock:      time.Now,
	}
}

// EnsureIndexes 建索引：通知 TTL、收件人+id 倒序、会话对唯一、消息按会话分页
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.NotifyColl.Collection().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: model.NotificationFieldCreatedAt, Value: 1}},
			Options: options.Index().SetName("ttl_created_at").SetExpireAfterSeconds(int32(s.Retention / time.Second)),
		},
		{
			Keys: bson.D{
				{Key: model.NotificationFieldRole, Value: 1},
				{Key: model.NotificationFieldUserID, Value: 1},
				{Key: model.NotificationFieldID, Value: -1},
			},
			Options: options.Index().SetName("recipient_id"),
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "create notification indexes")
	}
	_, err = s.ConvColl.Collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: model.ConversationFieldBuyerID, Value: 1},
			{Key: model.ConversationFieldSellerID, Value: 1},
		},
		Options: options.Index().SetName("uniq_pair").SetUnique(true),
	})
	if err != nil {
		return errs.WrapMsg(err, "create conversation indexes")
	}
	_, err = s.MsgColl.Collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: model.ChatMessageFieldConversationID, Value: 1},
			{Key: model.ChatMessageFieldID, Value: -1},
		},
		Options: options.Index().SetName("conv_id"),
	})
	if err != nil {
		return errs.WrapMsg(err, "create chat_message indexes")
	}
	return nil
}

func (s *MongoStore) Append(ctx context.Context, n *model.Notification) error {
	if !n.Recipient.Valid() {
		return errs.ErrArgs.WrapMsg("invalid recipient", "recipient", n.Recipient)
	}
	if n.ID == 0 {
		n.ID = ids.Generate()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.clock()
	}
	_, err := s.NotifyColl.Collection().InsertOne(ctx, n)
	return errs.Wrap(err)
}

func (s *MongoStore) List(ctx context.Context, q ListQuery) (Page[model.Notification], error) {
	if !q.Recipient.Valid() {
		return Page[model.Notification]{}, errs.ErrArgs.WrapMsg("invalid recipient")
	}
	limit := normLimit(q.Limit)
	filter := bson.M{
		model.NotificationFieldRole:   q.Recipient.Role,
		model.NotificationFieldUserID: q.Recipient.ID,
	}
	if q.Cursor > 0 {
		filter[model.NotificationFieldID] = bson.M{"$lt": q.Cursor}
	}
	if q.UnreadOnly {
		filter[model.NotificationFieldIsRead] = false
	}
	rows, err := findDesc[model.Notification](ctx, s.NotifyColl.Collection(), filter, limit)
	if err != nil {
		return Page[model.Notification]{}, err
	}
	return paginate(rows, limit), nil
}

func (s *MongoStore) MarkRead(ctx context.Context, id int64, recipient identity.Principal) (bool, error) {
	res, err := s.NotifyColl.Collection().UpdateOne(ctx,
		bson.M{
			model.NotificationFieldID:     id,
			model.NotificationFieldRole:   recipient.Role,
			model.NotificationFieldUserID: recipient.ID,
		},
		bson.M{"$set": bson.M{model.NotificationFieldIsRead: true}},
	)
	if err != nil {
		return false, errs.Wrap(err)
	}
	return res.MatchedCount > 0, nil
}

func (s *MongoStore) EnsureConversation(ctx context.Context, buyerID, sellerID int64) (*model.Conversation, error) {
	filter := bson.M{
		model.ConversationFieldBuyerID:  buyerID,
		model.ConversationFieldSellerID: sellerID,
	}
	update := bson.M{
		"$setOnInsert": bson.M{
			model.ConversationFieldID:        ids.Generate(),
			model.ConversationFieldBuyerID:   buyerID,
			model.ConversationFieldSellerID:  sellerID,
			model.ConversationFieldCreatedAt: s.clock(),
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var out model.Conversation
	err := s.ConvColl.Collection().FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if mongo.IsDuplicateKeyError(err) {
		// 并发 upsert 撞唯一索引，另一方已插入，再读一次
		err = s.ConvColl.Collection().FindOne(ctx, filter).Decode(&out)
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &out, nil
}

func (s *MongoStore) GetConversation(ctx context.Context, id int64) (*model.Conversation, error) {
	var out model.Conversation
	err := s.ConvColl.Collection().FindOne(ctx, bson.M{model.ConversationFieldID: id}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrRecordNotFound.WrapMsg("conversation", "id", id)
	}
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return &out, nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, m *model.ChatMessage) error {
	if m.ID == 0 {
		m.ID = ids.Generate()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.clock()
	}
	if _, err := s.MsgColl.Collection().InsertOne(ctx, m); err != nil {
		return errs.Wrap(err)
	}
	_, err := s.ConvColl.Collection().UpdateOne(ctx,
		bson.M{model.ConversationFieldID: m.ConversationID},
		bson.M{"$max": bson.M{model.ConversationFieldLastMessageAt: m.CreatedAt}},
	)
	return errs.Wrap(err)
}

func (s *MongoStore) ListMessages(ctx context.Context, conversationID int64, limit int, cursor int64) (Page[model.ChatMessage], error) {
	limit = normLimit(limit)
	filter := bson.M{model.ChatMessageFieldConversationID: conversationID}
	if cursor > 0 {
		filter[model.ChatMessageFieldID] = bson.M{"$lt": cursor}
	}
	rows, err := findDesc[model.ChatMessage](ctx, s.MsgColl.Collection(), filter, limit)
	if err != nil {
		return Page[model.ChatMessage]{}, err
	}
	return paginate(rows, limit), nil
}

func (s *MongoStore) MarkMessageRead(ctx context.Context, id int64, reader identity.Principal) (bool, error) {
	var msg model.ChatMessage
	err := s.MsgColl.Collection().FindOne(ctx, bson.M{model.ChatMessageFieldID: id}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, errs.Wrap(err)
	}
	conv, err := s.GetConversation(ctx, msg.ConversationID)
	if errors.Is(err, errs.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !canRead(conv, &msg, reader) {
		return false, nil
	}
	_, err = s.MsgColl.Collection().UpdateOne(ctx,
		bson.M{model.ChatMessageFieldID: id},
		bson.M{"$set": bson.M{model.ChatMessageFieldIsRead: true}},
	)
	if err != nil {
		return false, errs.Wrap(err)
	}
	return true, nil
}

// canRead 会话成员且不是发送方
func canRead(conv *model.Conversation, msg *model.ChatMessage, reader identity.Principal) bool {
	return conv.Has(reader) && msg.Sender != reader
}

func findDesc[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, limit int) ([]T, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(limit + 1))
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	var rows []T
	if err := cur.All(ctx, &rows); err != nil {
		return nil, errs.Wrap(err)
	}
	return rows, nil
}
