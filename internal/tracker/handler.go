package tracker

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/velibors/extracker/internal/telemetry/metrics"
	"github.com/velibors/extracker/internal/telemetry/tracing"
	"github.com/velibors/extracker/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

// Handler maps the /api/exercise routes onto the Service. The original
// frontend posts url-encoded form data, newer clients send JSON, so
// both body formats are accepted.
type Handler struct {
	service        *Service
	metricsManager *metrics.Manager
}

func NewHandler(service *Service, metricsManager *metrics.Manager) *Handler {
	return &Handler{
		service:        service,
		metricsManager: metricsManager,
	}
}

func (handler *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/api/exercise/new-user", handler.HandleNewUser).Methods("POST", "OPTIONS").Name("new-user")
	router.HandleFunc("/api/exercise/users", handler.HandleListUsers).Methods("GET", "OPTIONS").Name("list-users")
	router.HandleFunc("/api/exercise/add", handler.HandleAddExercise).Methods("POST", "OPTIONS").Name("add-exercise")
	router.HandleFunc("/api/exercise/log", handler.HandleLog).Methods("GET", "OPTIONS").Name("exercise-log")
}

type newUserRequest struct {
	Username string `json:"username"`
}

func (handler *Handler) HandleNewUser(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.tracker.newuser")
	defer span.End()

	var req newUserRequest
	if isJSONRequest(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Tracef("new user, unmarshal json params: %s", err)
			http.Error(w, "add user failed", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "parse form error", http.StatusBadRequest)
			return
		}
		req.Username = r.PostFormValue("username")
	}

	if req.Username == "" {
		http.Error(w, "error, username empty", http.StatusBadRequest)
		return
	}

	result, err := handler.service.CreateUser(ctx, req.Username)
	if err != nil {
		log.Errorf("failed to create new user [%s]: %s", req.Username, err)
		http.Error(w, "error, failed to create new user", http.StatusInternalServerError)
		return
	}

	resultJson, err := json.Marshal(result)
	if err != nil {
		log.Errorf("failed to marshal new user response: %s", err)
		http.Error(w, "error, failed to create new user", http.StatusInternalServerError)
		return
	}

	if result.Conflict() {
		// username taken is a regular response, not an error
		log.Debugf("user [%s] already exists", req.Username)
		pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, resultJson)
		return
	}

	handler.metricsManager.CounterUsersCreated.Inc()
	log.Debugf("new user created: %s", resultJson)
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, resultJson)
}

type listUsersResponse struct {
	Users []UserInfo `json:"users"`
}

func (handler *Handler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.tracker.listusers")
	defer span.End()

	users, err := handler.service.ListUsers(ctx)
	if err != nil {
		log.Errorf("list users error: %s", err)
		http.Error(w, "failed to get users", http.StatusInternalServerError)
		return
	}

	usersJson, err := json.Marshal(listUsersResponse{Users: users})
	if err != nil {
		log.Errorf("marshal users error: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, usersJson)
}

type addExerciseRequest struct {
	UserID      string `json:"userId"`
	Description string `json:"description"`
	Duration    int    `json:"duration"`
	Date        string `json:"date,omitempty"`
}

func (handler *Handler) HandleAddExercise(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.tracker.addexercise")
	defer span.End()

	var req addExerciseRequest
	if isJSONRequest(r) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Tracef("add exercise, unmarshal json params: %s", err)
			http.Error(w, "add exercise failed", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "parse form error", http.StatusBadRequest)
			return
		}
		req.UserID = r.PostFormValue("userId")
		req.Description = r.PostFormValue("description")
		req.Date = r.PostFormValue("date")
		if durationStr := r.PostFormValue("duration"); durationStr != "" {
			duration, err := strconv.Atoi(durationStr)
			if err != nil {
				log.Tracef("add exercise, from <duration> param: %s", err)
				http.Error(w, "parse form error, parameter <duration>", http.StatusBadRequest)
				return
			}
			req.Duration = duration
		}
	}

	if req.UserID == "" {
		http.Error(w, "error, user id empty", http.StatusBadRequest)
		return
	}

	params := AddExerciseParams{
		Description: req.Description,
		Duration:    req.Duration,
	}
	if req.Date != "" {
		date, err := ParseDate(req.Date)
		if err != nil {
			log.Tracef("add exercise, from <date> param: %s", err)
			http.Error(w, "parse form error, parameter <date>", http.StatusBadRequest)
			return
		}
		params.Date = &date
	}

	user, err := handler.service.AddExercise(ctx, req.UserID, params)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			log.Debugf("add exercise, user %s not found", req.UserID)
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		log.Errorf("failed to add exercise for user [%s]: %s", req.UserID, err)
		http.Error(w, "error, failed to add exercise", http.StatusInternalServerError)
		return
	}

	userJson, err := json.Marshal(user)
	if err != nil {
		log.Errorf("failed to marshal updated user: %s", err)
		http.Error(w, "error, failed to add exercise", http.StatusInternalServerError)
		return
	}

	handler.metricsManager.CounterExercisesAdded.Inc()
	log.Debugf("new exercise added for user %s", user.ID)
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, userJson)
}

type logErrorResponse struct {
	Error string `json:"error"`
}

func (handler *Handler) HandleLog(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.tracker.log")
	defer span.End()

	queryParams := r.URL.Query()

	logQuery := LogQuery{
		UserID: queryParams.Get("userId"),
	}

	if logQuery.UserID == "" {
		// the original API answers this with a regular JSON payload
		// carrying the error message, so that is kept
		errJson, err := json.Marshal(logErrorResponse{Error: ErrMissingUserID.Error()})
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, errJson)
		return
	}

	if fromStr := queryParams.Get("from"); fromStr != "" {
		from, err := ParseDate(fromStr)
		if err != nil {
			log.Tracef("get log, from <from> param: %s", err)
			http.Error(w, "parse form error, parameter <from>", http.StatusBadRequest)
			return
		}
		logQuery.From = &from
	}
	if toStr := queryParams.Get("to"); toStr != "" {
		to, err := ParseDate(toStr)
		if err != nil {
			log.Tracef("get log, from <to> param: %s", err)
			http.Error(w, "parse form error, parameter <to>", http.StatusBadRequest)
			return
		}
		logQuery.To = &to
	}
	if limitStr := queryParams.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			log.Tracef("get log, from <limit> param: %s", err)
			http.Error(w, "parse form error, parameter <limit>", http.StatusBadRequest)
			return
		}
		logQuery.Limit = &limit
	}

	exerciseLog, err := handler.service.GetLog(ctx, logQuery)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			log.Debugf("get log, user %s not found", logQuery.UserID)
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		log.Errorf("failed to get log for user [%s]: %s", logQuery.UserID, err)
		http.Error(w, "failed to get exercise log", http.StatusInternalServerError)
		return
	}

	logJson, err := json.Marshal(exerciseLog)
	if err != nil {
		log.Errorf("failed to marshal exercise log: %s", err)
		http.Error(w, "failed to marshal exercise log", http.StatusInternalServerError)
		return
	}

	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, logJson)
}

func isJSONRequest(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}
