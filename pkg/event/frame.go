package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// New は新しいプッシュフレームを生成する。
// dataにはフレーム固有のデータ構造体を渡す。JSON形式にシリアライズされる。
func New(frameType Type, data any) (*Frame, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("フレームデータのシリアライズに失敗: %w", err)
	}

	return &Frame{
		Type:      frameType,
		Data:      jsonData,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// DecodeData はフレームのDataフィールドを指定された型にデシリアライズする。
func DecodeData[T any](f *Frame) (*T, error) {
	var data T
	if err := json.Unmarshal(f.Data, &data); err != nil {
		return nil, fmt.Errorf("フレームデータのデシリアライズに失敗: %w", err)
	}
	return &data, nil
}
