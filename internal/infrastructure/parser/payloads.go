package parser

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"HotTopics/internal/domain"
)

type douyinHotList struct {
	Data struct {
		WordList []struct {
			Word     string `json:"word"`
			HotValue int64  `json:"hot_value"`
		} `json:"word_list"`
	} `json:"data"`
}

// DecodeDouyinHotList reads the `web/hot/search/list` response.
func DecodeDouyinHotList(body []byte) ([]domain.RawTopic, error) {
	var payload douyinHotList
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode douyin hot list: %w", err)
	}

	topics := make([]domain.RawTopic, 0, len(payload.Data.WordList))
	for _, item := range payload.Data.WordList {
		word := strings.TrimSpace(item.Word)
		if word == "" {
			continue
		}
		topics = append(topics, domain.RawTopic{
			Title: word,
			Link:  "https://www.douyin.com/search/" + url.PathEscape(word) + "?type=hot",
		})
	}
	return topics, nil
}

type toutiaoEntry struct {
	Title string `json:"Title"`
	URL   string `json:"Url"`
}

type toutiaoHotBoard struct {
	Data json.RawMessage `json:"data"`
}

// DecodeToutiaoHotBoard reads the `hot-event/hot-board` response. The entry
// list is either `data` itself or nested one level deeper under `data.data`.
func DecodeToutiaoHotBoard(body []byte) ([]domain.RawTopic, error) {
	var payload toutiaoHotBoard
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode toutiao hot board: %w", err)
	}

	entries, err := toutiaoEntries(payload.Data)
	if err != nil {
		return nil, err
	}

	topics := make([]domain.RawTopic, 0, len(entries))
	for _, e := range entries {
		title := strings.TrimSpace(e.Title)
		link := strings.TrimSpace(e.URL)
		if title == "" || link == "" {
			continue
		}
		topics = append(topics, domain.RawTopic{Title: title, Link: link})
	}
	return topics, nil
}

func toutiaoEntries(raw json.RawMessage) ([]toutiaoEntry, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("decode toutiao hot board: missing data")
	}

	var list []toutiaoEntry
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var nested struct {
		Data []toutiaoEntry `json:"data"`
	}
	if err := json.Unmarshal(raw, &nested); err != nil {
		return nil, fmt.Errorf("decode toutiao hot board: unexpected data shape: %w", err)
	}
	return nested.Data, nil
}
