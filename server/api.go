package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// API REST 协作面：认证、宠物 CRUD 与动作、世界地图、手动 Tick、指标
type API struct {
	hub       *Hub
	scheduler *TickScheduler
}

// NewAPI 创建 REST 层
func NewAPI(hub *Hub, scheduler *TickScheduler) *API {
	return &API{hub: hub, scheduler: scheduler}
}

// Routes 注册全部路由（Go 1.22 方法匹配语法）
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/register", a.handleRegister)
	mux.HandleFunc("POST /auth/login", a.handleLogin)
	mux.HandleFunc("POST /auth/logout", a.handleLogout)

	mux.HandleFunc("GET /pets", a.withAuth(a.handleListPets))
	mux.HandleFunc("POST /pets", a.withAuth(a.handleCreatePet))
	mux.HandleFunc("GET /pets/{id}", a.withAuth(a.handleGetPet))
	mux.HandleFunc("PATCH /pets/{id}", a.withAuth(a.handleUpdatePet))
	mux.HandleFunc("DELETE /pets/{id}", a.withAuth(a.handleDeletePet))
	mux.HandleFunc("GET /pets/{id}/stats", a.withAuth(a.handlePetStats))
	mux.HandleFunc("POST /pets/{id}/feed", a.withAuth(a.actionHandler(ActionFeed)))
	mux.HandleFunc("POST /pets/{id}/toilet", a.withAuth(a.actionHandler(ActionToilet)))
	mux.HandleFunc("POST /pets/{id}/sleep", a.withAuth(a.actionHandler(ActionSleep)))
	mux.HandleFunc("POST /pets/{id}/play", a.withAuth(a.actionHandler(ActionPlay)))
	mux.HandleFunc("POST /pets/{id}/play-game", a.withAuth(a.handlePlayGame))
	mux.HandleFunc("POST /pets/{id}/move", a.withAuth(a.handleMovePet))

	mux.HandleFunc("GET /games", a.handleListGames)
	mux.HandleFunc("GET /games/{id}", a.handleGetGame)

	mux.HandleFunc("GET /stats", a.handleGlobalStats)
	mux.HandleFunc("GET /stats/users/{id}", a.withAuth(a.handleUserStats))

	mux.HandleFunc("GET /world", a.handleWorld)
	mux.HandleFunc("POST /tick", a.withAuth(a.handleTick))
	mux.HandleFunc("GET /metrics", a.handleMetrics)
}

// --- 通用工具 ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// httpError 按错误分类映射状态码
func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrUnauthorized):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrVersionConflict):
		http.Error(w, "conflict, please retry", http.StatusConflict)
	case errors.Is(err, ErrDuplicate):
		http.Error(w, "already exists", http.StatusConflict)
	default:
		Log.Errorf("internal error: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type authedHandler func(w http.ResponseWriter, r *http.Request, uid UserID)

// withAuth 要求 Authorization: Bearer <jwt>
func (a *API) withAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "Authorization header must be a Bearer token", http.StatusUnauthorized)
			return
		}
		uid, _, err := a.hub.auth.Verify(r.Context(), token)
		if err != nil {
			httpError(w, err)
			return
		}
		next(w, r, uid)
	}
}

// --- 认证 ---

type credentialsBody struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	u, err := a.hub.auth.Register(r.Context(), body.Name, body.Password)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	token, u, err := a.hub.auth.Login(r.Context(), body.Name, body.Password)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": u})
}

func (a *API) handleLogout(w http.ResponseWriter, _ *http.Request) {
	// 无状态 JWT：客户端丢弃令牌即完成登出
	w.WriteHeader(http.StatusNoContent)
}

// --- 宠物 ---

func (a *API) handleListPets(w http.ResponseWriter, r *http.Request, _ UserID) {
	owner := UserID(r.URL.Query().Get("userId"))
	pets, err := a.hub.store.ListPets(r.Context(), owner)
	if err != nil {
		httpError(w, err)
		return
	}
	views := make([]PetView, 0, len(pets))
	for i := range pets {
		views = append(views, pets[i].View())
	}
	writeJSON(w, http.StatusOK, views)
}

func (a *API) handleCreatePet(w http.ResponseWriter, r *http.Request, uid UserID) {
	var body struct {
		Name   string   `json:"name"`
		UserID UserID   `json:"userId"`
		Lat    *float64 `json:"lat"`
		Lng    *float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if body.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	owner := body.UserID
	if owner == "" {
		owner = uid
	}
	var lat, lng float64
	if body.Lat != nil {
		lat = *body.Lat
	}
	if body.Lng != nil {
		lng = *body.Lng
	}
	if !validCoords(lat, lng) {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	pet := &Pet{
		ID:      PetID(uuid.NewString()),
		Name:    body.Name,
		OwnerID: owner,
		Level:   1,
		Stats: StatVector{
			Hunger:  maxStat,
			Hygiene: maxStat,
			Energy:  maxStat,
			Fun:     maxStat,
		},
		Location:  NewGeoPoint(lng, lat),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.hub.store.CreatePet(r.Context(), pet); err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pet.View())
}

func (a *API) handleGetPet(w http.ResponseWriter, r *http.Request, _ UserID) {
	pet, err := a.hub.store.GetPet(r.Context(), PetID(r.PathValue("id")))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pet.View())
}

func (a *API) handleDeletePet(w http.ResponseWriter, r *http.Request, _ UserID) {
	if err := a.hub.store.DeletePet(r.Context(), PetID(r.PathValue("id"))); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePetStats(w http.ResponseWriter, r *http.Request, _ UserID) {
	pet, err := a.hub.store.GetPet(r.Context(), PetID(r.PathValue("id")))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pet.Stats)
}

// actionHandler 玩家动作的公共路径：变换 → 裁剪 → 版本写 → 推送与阈值评估
func (a *API) actionHandler(mutate func(*StatVector)) authedHandler {
	return func(w http.ResponseWriter, r *http.Request, _ UserID) {
		pet, old, current, err := a.hub.engine.Apply(r.Context(), PetID(r.PathValue("id")), mutate)
		if err != nil {
			httpError(w, err)
			return
		}
		a.hub.NotifyPetUpdated(pet, old, current)
		writeJSON(w, http.StatusOK, pet.View())
	}
}

func (a *API) handleUpdatePet(w http.ResponseWriter, r *http.Request, _ UserID) {
	var body struct {
		Name *string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if body.Name == nil || *body.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	id := PetID(r.PathValue("id"))
	if err := a.hub.store.RenamePet(r.Context(), id, *body.Name); err != nil {
		httpError(w, err)
		return
	}
	pet, err := a.hub.store.GetPet(r.Context(), id)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pet.View())
}

func (a *API) handleMovePet(w http.ResponseWriter, r *http.Request, _ UserID) {
	var body struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Lat == nil || body.Lng == nil {
		http.Error(w, "lat and lng numbers are required", http.StatusBadRequest)
		return
	}
	if !validCoords(*body.Lat, *body.Lng) {
		http.Error(w, "invalid coordinates", http.StatusBadRequest)
		return
	}
	id := PetID(r.PathValue("id"))
	if err := a.hub.store.UpdatePetLocation(r.Context(), id, *body.Lat, *body.Lng); err != nil {
		httpError(w, err)
		return
	}
	pet, err := a.hub.store.GetPet(r.Context(), id)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pet.View())
}

// --- 小游戏 ---

func (a *API) handleListGames(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"games": gameCatalog,
		"count": len(gameCatalog),
	})
}

func (a *API) handleGetGame(w http.ResponseWriter, r *http.Request) {
	game, ok := findGame(r.PathValue("id"))
	if !ok {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, game)
}

// handlePlayGame 玩一局：引擎扣减属性后推送 pet:updated 与 game:completed
func (a *API) handlePlayGame(w http.ResponseWriter, r *http.Request, uid UserID) {
	var body struct {
		GameID string `json:"gameId"`
		Score  int    `json:"score"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	game, ok := findGame(body.GameID)
	if !ok {
		http.Error(w, "game not found", http.StatusNotFound)
		return
	}

	pet, old, current, err := a.hub.engine.PlayGame(r.Context(), PetID(r.PathValue("id")), uid, game, body.Score)
	if err != nil {
		httpError(w, err)
		return
	}
	a.hub.NotifyPetUpdated(pet, old, current)
	a.hub.ToUser(pet.OwnerID, EvtGameCompleted, GameCompletedPayload{
		PetID:      pet.ID,
		PetName:    pet.Name,
		GameID:     game.ID,
		GameName:   game.Name,
		FunGained:  current.Fun - old.Fun,
		EnergyLost: old.Energy - current.Energy,
		HungerLost: old.Hunger - current.Hunger,
		Score:      body.Score,
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("%s played %s!", pet.Name, game.Name),
		"game":    map[string]string{"id": game.ID, "name": game.Name},
		"score":   body.Score,
		"stats":   current,
		"changes": map[string]int{
			"fun":    current.Fun - old.Fun,
			"energy": current.Energy - old.Energy,
			"hunger": current.Hunger - old.Hunger,
		},
	})
}

// --- 统计 ---

func (a *API) handleGlobalStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.hub.store.GlobalStats(r.Context())
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleUserStats 个人聚合，只允许查看自己的
func (a *API) handleUserStats(w http.ResponseWriter, r *http.Request, uid UserID) {
	target := UserID(r.PathValue("id"))
	if target != uid {
		http.Error(w, "you can only view your own statistics", http.StatusForbidden)
		return
	}
	stats, err := a.hub.store.UserStats(r.Context(), target)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- 世界与运维 ---

func (a *API) handleWorld(w http.ResponseWriter, r *http.Request) {
	pets, err := a.hub.store.ListPets(r.Context(), "")
	if err != nil {
		httpError(w, err)
		return
	}
	type worldPet struct {
		ID       PetID    `json:"id"`
		Name     string   `json:"name"`
		Owner    UserID   `json:"owner,omitempty"`
		Level    int      `json:"level"`
		Location GeoPoint `json:"location"`
	}
	out := make([]worldPet, 0, len(pets))
	for i := range pets {
		p := &pets[i]
		out = append(out, worldPet{ID: p.ID, Name: p.Name, Owner: p.OwnerID, Level: p.Level, Location: p.Location})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTick 手动触发一轮衰减；与定时触发共用同一个 RunCycle 与互斥保护
func (a *API) handleTick(w http.ResponseWriter, r *http.Request, _ UserID) {
	updated := a.scheduler.RunCycle(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

// handleMetrics 输出运行指标
func (a *API) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.hub.metrics.Snapshot())
}
