package storage

import (
	"time"

	"github.com/bytedance/sonic"

	"github.com/Sadik-Sami/ToDo-DnD/domain"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

const (
	edmInt32    = "Edm.Int32"
	edmDateTime = "Edm.DateTime"
)

// taskEntity is a task row. PartitionKey is the owner, RowKey the task id.
type taskEntity struct {
	Entity
	Title         string    `json:"Title"`
	Description   string    `json:"Description,omitempty"`
	Category      string    `json:"Category"`
	Order         int       `json:"Order"`
	OrderType     string    `json:"Order@odata.type,omitempty"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
}

// taskUpdate carries the columns of a merge update.
type taskUpdate struct {
	Entity
	Title       *string `json:"Title,omitempty"`
	Description *string `json:"Description,omitempty"`
	Category    *string `json:"Category,omitempty"`
	Order       *int    `json:"Order,omitempty"`
	OrderType   *string `json:"Order@odata.type,omitempty"`
}

type userEntity struct {
	Entity
	Email       string `json:"Email"`
	DisplayName string `json:"DisplayName"`
}

func encodeTask(t domain.Task) ([]byte, error) {
	return sonic.ConfigStd.Marshal(taskEntity{
		Entity:        Entity{PartitionKey: t.Owner, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		Category:      string(t.Category),
		Order:         t.Order,
		OrderType:     edmInt32,
		CreatedAt:     t.CreatedAt.UTC(),
		CreatedAtType: edmDateTime,
	})
}

func decodeTask(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.ConfigStd.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          ent.RowKey,
		Owner:       ent.PartitionKey,
		Title:       ent.Title,
		Description: ent.Description,
		Category:    domain.Category(ent.Category),
		Order:       ent.Order,
		CreatedAt:   ent.CreatedAt,
	}, nil
}

func encodePatch(owner, id string, p domain.TaskPatch) ([]byte, error) {
	upd := taskUpdate{
		Entity:      Entity{PartitionKey: owner, RowKey: id},
		Title:       p.Title,
		Description: p.Description,
		Order:       p.Order,
	}
	if p.Category != nil {
		c := string(*p.Category)
		upd.Category = &c
	}
	if p.Order != nil {
		t := edmInt32
		upd.OrderType = &t
	}
	return sonic.ConfigStd.Marshal(upd)
}

func encodeOrder(owner string, u domain.OrderUpdate) ([]byte, error) {
	order := u.Order
	category := string(u.Category)
	t := edmInt32
	return sonic.ConfigStd.Marshal(taskUpdate{
		Entity:    Entity{PartitionKey: owner, RowKey: u.ID},
		Category:  &category,
		Order:     &order,
		OrderType: &t,
	})
}

func encodeUser(u domain.User) ([]byte, error) {
	return sonic.ConfigStd.Marshal(userEntity{
		Entity:      Entity{PartitionKey: u.UID, RowKey: u.UID},
		Email:       u.Email,
		DisplayName: u.DisplayName,
	})
}
