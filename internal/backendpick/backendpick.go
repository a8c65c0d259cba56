// Package backendpick 在建立长连接前向调度接口询问
// 目标房间应当落在哪台后端实例上。
package backendpick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Result 调度接口的应答。
type Result struct {
	BackendAddr string `json:"bA"`
	AnonName    string `json:"aN"`
	Err         string `json:"e"`
}

type Resolver struct {
	endpoint string
	client   *http.Client
}

func New(endpoint string) *Resolver {
	return &Resolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Pick 查询房间的目标后端地址。调度侧报错的内容原样带回。
func (r *Resolver) Pick(ctx context.Context, roomName string) (Result, error) {
	u := r.endpoint + "?r=" + url.QueryEscape(roomName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("backendpick: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Result{}, err
	}
	var res Result
	if err := json.Unmarshal(body, &res); err != nil {
		return Result{}, err
	}
	if res.Err != "" {
		return res, errors.New("backendpick: " + res.Err)
	}
	if res.BackendAddr == "" {
		return res, errors.New("backendpick: empty backend address")
	}
	return res, nil
}
