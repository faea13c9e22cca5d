// Package model defines the live feed event and media cache data types.
package model

import "time"

// Category partitions the live feed into independent streams.
type Category string

const (
	CategoryChat      Category = "chat"
	CategoryGift      Category = "gift"
	CategorySuperChat Category = "superchat"
)

// Categories lists every feed category in display order.
var Categories = []Category{CategoryChat, CategoryGift, CategorySuperChat}

// DisplayTimeLayout is the layout used for Event.DisplayTime.
const DisplayTimeLayout = "2006-01-02 15:04:05"

// Event is a normalized feed record. It is never mutated after it has been
// appended to a buffer.
type Event struct {
	ID          string    `json:"id"`
	Category    Category  `json:"category"`
	MsgType     string    `json:"msg_type"`
	UID         string    `json:"uid,omitempty"`
	Username    string    `json:"username"`
	Avatar      string    `json:"avatar,omitempty"`
	Level       int       `json:"level"`
	Privilege   string    `json:"privilege,omitempty"`
	GuardLevel  int       `json:"guard_level"`
	Identity    string    `json:"identity,omitempty"`
	Content     string    `json:"content,omitempty"`
	GiftName    string    `json:"gift_name,omitempty"`
	Count       int       `json:"count,omitempty"`
	Price       float64   `json:"price,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	DisplayTime string    `json:"time"`
}

// RawEvent is one event object as pushed by the server, both on the live
// socket and in history responses.
type RawEvent struct {
	ID            string  `json:"id,omitempty"`
	UserName      string  `json:"user_name"`
	Level         int     `json:"level"`
	PrivilegeName string  `json:"privilege_name"`
	DmText        string  `json:"dm_text"`
	Identity      string  `json:"identity"`
	Price         float64 `json:"price"`
	UID           *string `json:"uid"`
	FaceImg       *string `json:"face_img"`
	MsgType       string  `json:"msg_type"`
	Timestamp     float64 `json:"timestamp"`
	GiftType      string  `json:"gift_type,omitempty"`
	Num           int     `json:"num,omitempty"`
}

// Message types emitted by the server.
const (
	MsgTypeDanmaku   = "danmaku"
	MsgTypeSuperChat = "super_chat"
	MsgTypeGift      = "gift"
	MsgTypeGuard     = "guard"
)

// CategoryFor maps a wire msg_type onto its feed category.
func CategoryFor(msgType string) (Category, bool) {
	switch msgType {
	case MsgTypeDanmaku, "":
		return CategoryChat, true
	case MsgTypeSuperChat:
		return CategorySuperChat, true
	case MsgTypeGift, MsgTypeGuard:
		return CategoryGift, true
	}
	return "", false
}

// ValidCategory reports whether c is a known feed category.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryChat, CategoryGift, CategorySuperChat:
		return true
	}
	return false
}

// guardLevels maps a privilege name onto its guard tier. Lower is higher rank;
// 0 means no guard membership.
var guardLevels = map[string]int{
	"舰长": 3,
	"提督": 2,
	"总督": 1,
}

// GuardLevel returns the guard tier for a privilege name.
func GuardLevel(privilege string) int {
	return guardLevels[privilege]
}
