package decode

import (
	"encoding/json"
	"testing"
)

type samplePayload struct {
	SessionID  int64   `json:"session_id"`
	Content    string  `json:"content"`
	IsTyping   bool    `json:"is_typing"`
	MessageIDs []int64 `json:"message_ids"`
	Limit      int     `json:"limit"`
}

// 模拟线协议的真实来源：json.Unmarshal 到 map 再解码到负载结构。
func fromJSON(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestDecodeMapJSONNumbers(t *testing.T) {
	m := fromJSON(t, `{"session_id":42,"content":"你好","is_typing":true,"message_ids":[7,8,9],"limit":50}`)
	p, err := DecodeMap[samplePayload](m)
	if err != nil {
		t.Fatal(err)
	}
	if p.SessionID != 42 || p.Content != "你好" || !p.IsTyping || p.Limit != 50 {
		t.Errorf("payload = %+v", p)
	}
	if len(p.MessageIDs) != 3 || p.MessageIDs[0] != 7 || p.MessageIDs[2] != 9 {
		t.Errorf("message_ids = %v", p.MessageIDs)
	}
}

func TestDecodeMapWeakTyping(t *testing.T) {
	// 宽松模式下字符串数字也收
	m := map[string]any{"session_id": "42", "limit": float64(10)}
	p, err := DecodeMap[samplePayload](m)
	if err != nil {
		t.Fatal(err)
	}
	if p.SessionID != 42 || p.Limit != 10 {
		t.Errorf("payload = %+v", p)
	}
}

func TestDecodeMapMissingAndNil(t *testing.T) {
	p, err := DecodeMap[samplePayload](nil)
	if err != nil {
		t.Fatal(err)
	}
	if p.SessionID != 0 || p.Content != "" || p.MessageIDs != nil {
		t.Errorf("zero payload = %+v", p)
	}
}

func TestDecodeMapRejectsBadSliceElement(t *testing.T) {
	m := map[string]any{"message_ids": []any{float64(1), "not-a-number"}}
	if _, err := DecodeMap[samplePayload](m); err == nil {
		t.Error("bad slice element accepted")
	}
}
