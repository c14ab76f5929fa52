package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
)

var (
	DefaultUserFields  = []string{"id", "screenname", "username"}
	DefaultVideoFields = []string{"id", "title", "owner", "duration", "created_time", "url"}
)

type User struct {
	ID         string `json:"id"`
	Screenname string `json:"screenname,omitempty"`
	Username   string `json:"username,omitempty"`
}

type Video struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Owner       string `json:"owner,omitempty"`
	Duration    int    `json:"duration,omitempty"`
	CreatedTime int64  `json:"created_time,omitempty"`
	URL         string `json:"url,omitempty"`
}

// VideoList is a page of videos.
type VideoList struct {
	Page    int     `json:"page"`
	Limit   int     `json:"limit"`
	HasMore bool    `json:"has_more"`
	List    []Video `json:"list"`
}

// Me returns the user the current session belongs to.
func (c *Client) Me(ctx context.Context, fields ...string) (User, error) {
	if len(fields) == 0 {
		fields = DefaultUserFields
	}
	var user User
	err := c.get(ctx, "/me", Params{"fields": fields}, &user)
	return user, err
}

func (c *Client) Video(ctx context.Context, id string, fields ...string) (Video, error) {
	if id == "" {
		return Video{}, fmt.Errorf("%w: empty video id", ErrInvalidArgument)
	}
	if len(fields) == 0 {
		fields = DefaultVideoFields
	}
	var video Video
	err := c.get(ctx, "/video/"+url.PathEscape(id), Params{"fields": fields}, &video)
	return video, err
}

// UserVideos lists the videos of a user ("me" for the current one).
func (c *Client) UserVideos(ctx context.Context, user string, limit int, fields ...string) (VideoList, error) {
	if len(fields) == 0 {
		fields = DefaultVideoFields
	}
	params := Params{"fields": fields}
	if limit > 0 {
		params["limit"] = limit
	}
	var list VideoList
	err := c.get(ctx, "/user/"+url.PathEscape(user)+"/videos", params, &list)
	return list, err
}

// Logout revokes the current session server side.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Call(ctx, "/logout", "get", nil)
	return err
}

func (c *Client) get(ctx context.Context, path string, params Params, result any) error {
	raw, err := c.Call(ctx, path, "get", params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
