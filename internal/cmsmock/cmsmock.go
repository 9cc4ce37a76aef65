// Copyright (c) 2025 wangke <464829928@qq.com>
//
// This software is released under the AGPL-3.0 license.
// For more details, see the LICENSE file in the root directory.

// Package cmsmock 是一个最小化的课程目录 CMS 后端，用于本地开发和测试网关。
package cmsmock

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Course 课程
type Course struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

// Banner 首页横幅
type Banner struct {
	ID     int    `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

// Ticket 客服工单
type Ticket struct {
	ID      int    `json:"id"`
	Subject string `json:"subject"`
}

// LoginRequest 定义了登录请求的 JSON 结构
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse 定义了登录成功响应的 JSON 结构
type LoginResponse struct {
	Token   string `json:"token"`
	Message string `json:"message"`
}

// Server 持有模拟数据，并记录每个路径被请求的次数
type Server struct {
	mu         sync.RWMutex
	courses    []Course
	banners    []Banner
	categories []string
	skills     []string
	tickets    []Ticket
	nextID     int

	hits sync.Map // path -> *atomic.Int64
}

// New 创建一个带有种子数据的模拟后端
func New() *Server {
	return &Server{
		courses: []Course{
			{ID: 1, Title: "Go 入门", Category: "go"},
			{ID: 2, Title: "并发编程", Category: "go"},
			{ID: 3, Title: "Rust 所有权", Category: "rust"},
		},
		banners: []Banner{
			{ID: 7, Title: "秋季新课", Status: "active"},
			{ID: 8, Title: "夏季促销", Status: "archived"},
		},
		categories: []string{"go", "rust"},
		skills:     []string{"backend", "systems"},
		tickets:    []Ticket{{ID: 1, Subject: "无法登录"}},
		nextID:     100,
	}
}

// Handler 返回后端的路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/courses", s.listCourses)
	mux.HandleFunc("POST /api/courses", s.createCourse)
	mux.HandleFunc("GET /api/courses/{id}", s.getCourse)
	mux.HandleFunc("DELETE /api/courses/{id}", s.deleteCourse)
	mux.HandleFunc("GET /api/banners", s.listBanners)
	mux.HandleFunc("GET /api/categories", s.listCategories)
	mux.HandleFunc("POST /api/categories", s.createCategory)
	mux.HandleFunc("GET /api/skills", s.listSkills)
	mux.HandleFunc("GET /api/stats", s.stats)
	mux.HandleFunc("GET /api/tickets", s.listTickets)
	mux.HandleFunc("POST /api/tickets", s.createTicket)
	mux.HandleFunc("GET /api/chat/poll", s.chatPoll)
	mux.HandleFunc("POST /api/auth/login", s.login)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter, _ := s.hits.LoadOrStore(r.URL.Path, new(atomic.Int64))
		counter.(*atomic.Int64).Add(1)
		mux.ServeHTTP(w, r)
	})
}

// Hits 返回路径被请求的次数，按路径计数，读写请求都计入
func (s *Server) Hits(path string) int64 {
	counter, ok := s.hits.Load(path)
	if !ok {
		return 0
	}
	return counter.(*atomic.Int64).Load()
}

func (s *Server) listCourses(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")

	s.mu.RLock()
	out := make([]Course, 0, len(s.courses))
	for _, c := range s.courses {
		if category == "" || c.Category == category {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getCourse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid id"})
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.courses {
		if c.ID == id {
			writeJSON(w, http.StatusOK, c)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "course not found"})
}

func (s *Server) createCourse(w http.ResponseWriter, r *http.Request) {
	var c Course
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil || c.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid course"})
		return
	}

	s.mu.Lock()
	s.nextID++
	c.ID = s.nextID
	s.courses = append(s.courses, c)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) deleteCourse(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid id"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.courses {
		if c.ID == id {
			s.courses = append(s.courses[:i], s.courses[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"message": "course not found"})
}

func (s *Server) listBanners(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	s.mu.RLock()
	out := make([]Banner, 0, len(s.banners))
	for _, b := range s.banners {
		if status == "" || b.Status == status {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := append([]string(nil), s.categories...)
	s.mu.RUnlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid category"})
		return
	}

	s.mu.Lock()
	s.categories = append(s.categories, body.Name)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) listSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.skills)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]int{
		"courses":    len(s.courses),
		"categories": len(s.categories),
		"tickets":    len(s.tickets),
	})
}

func (s *Server) listTickets(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	out := append([]Ticket(nil), s.tickets...)
	s.mu.RUnlock()

	// 工单属于用户私有数据
	w.Header().Set("Cache-Control", "private, no-store")
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createTicket(w http.ResponseWriter, r *http.Request) {
	var t Ticket
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil || t.Subject == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid ticket"})
		return
	}

	s.mu.Lock()
	s.nextID++
	t.ID = s.nextID
	s.tickets = append(s.tickets, t)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) chatPoll(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]any{
		"messages":   []string{},
		"serverTime": time.Now().UTC().Format(time.RFC3339),
	})
}

// login 模拟验证逻辑
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
		return
	}

	if req.Username == "admin" && req.Password == "password" {
		writeJSON(w, http.StatusOK, LoginResponse{
			Token:   "fake-jwt-token-for-testing",
			Message: "Login successful",
		})
		return
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
