package http

import (
	"net/http"
	"strconv"

	"github.com/cesmii/i3x/errors"
	"github.com/cesmii/i3x/facade"
	"github.com/cesmii/i3x/types"
)

func (s *Server) handleNamespaces(w http.ResponseWriter, r *http.Request) {
	namespaces, err := s.facade.Namespaces(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, namespaces)
}

func (s *Server) handleRegisterNamespace(w http.ResponseWriter, r *http.Request) {
	var ns types.Namespace
	if err := decode(r, &ns); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.facade.RegisterNamespace(r.Context(), ns); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ns)
}

func (s *Server) handleObjectTypes(w http.ResponseWriter, r *http.Request) {
	objTypes, err := s.facade.ObjectTypes(r.Context(), r.URL.Query().Get("namespaceUri"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, objTypes)
}

func (s *Server) handleRegisterObjectType(w http.ResponseWriter, r *http.Request) {
	var ot types.ObjectType
	if err := decode(r, &ot); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.facade.RegisterObjectType(r.Context(), ot); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ot)
}

func (s *Server) handleObjectTypesQuery(w http.ResponseWriter, r *http.Request) {
	var sel facade.IDSelector
	if err := decode(r, &sel); err != nil {
		s.writeError(w, r, err)
		return
	}
	objTypes, err := s.facade.ObjectTypesByIDs(r.Context(), sel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, objTypes)
}

func (s *Server) handleRelationshipTypes(w http.ResponseWriter, r *http.Request) {
	relTypes, err := s.facade.RelationshipTypes(r.Context(), r.URL.Query().Get("namespaceUri"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, relTypes)
}

func (s *Server) handleRegisterRelationshipType(w http.ResponseWriter, r *http.Request) {
	var rt types.RelationshipType
	if err := decode(r, &rt); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.facade.RegisterRelationshipType(r.Context(), rt); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

func (s *Server) handleRelationshipTypesQuery(w http.ResponseWriter, r *http.Request) {
	var sel facade.IDSelector
	if err := decode(r, &sel); err != nil {
		s.writeError(w, r, err)
		return
	}
	relTypes, err := s.facade.RelationshipTypesByIDs(r.Context(), sel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, relTypes)
}

func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	objs, err := s.facade.Objects(r.Context(), r.URL.Query().Get("typeId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, objs)
}

func (s *Server) handleCreateObject(w http.ResponseWriter, r *http.Request) {
	var obj types.Object
	if err := decode(r, &obj); err != nil {
		s.writeError(w, r, err)
		return
	}
	created, err := s.facade.CreateObject(r.Context(), &obj)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleObjectsList(w http.ResponseWriter, r *http.Request) {
	var sel facade.IDSelector
	if err := decode(r, &sel); err != nil {
		s.writeError(w, r, err)
		return
	}
	objs, err := s.facade.ObjectsByIDs(r.Context(), sel)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, objs)
}

func (s *Server) handleObjectsRelated(w http.ResponseWriter, r *http.Request) {
	var req facade.RelatedRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	objs, err := s.facade.Related(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, objs)
}

func (s *Server) handleObjectsValue(w http.ResponseWriter, r *http.Request) {
	var req facade.ValueRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	points, err := s.facade.CurrentValues(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleObjectsHistory(w http.ResponseWriter, r *http.Request) {
	var req facade.HistoryRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	points, err := s.facade.History(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleUpdateObject(w http.ResponseWriter, r *http.Request) {
	var obj types.Object
	if err := decode(r, &obj); err != nil {
		s.writeError(w, r, err)
		return
	}
	elementID := r.PathValue("elementId")
	if obj.ElementID == "" {
		obj.ElementID = elementID
	} else if obj.ElementID != elementID {
		s.writeError(w, r, errors.NewValidation("elementId", "body elementId does not match path"))
		return
	}
	updated, err := s.facade.UpdateObject(r.Context(), &obj)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	cascade, _ := strconv.ParseBool(r.URL.Query().Get("cascade"))
	deleted, err := s.facade.DeleteObject(r.Context(), r.PathValue("elementId"), cascade)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *Server) handleWriteValue(w http.ResponseWriter, r *http.Request) {
	var req facade.WriteValueRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	point, err := s.facade.WriteValue(r.Context(), r.PathValue("elementId"), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, point)
}

func (s *Server) handleWriteHistory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Values []facade.WriteValueRequest `json:"values"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	written, err := s.facade.WriteHistory(r.Context(), r.PathValue("elementId"), req.Values)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"written": written})
}

func (s *Server) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.facade.Subscriptions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	sum, err := s.facade.CreateSubscription(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"subscriptionId": sum.SubscriptionID})
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	sum, err := s.facade.Subscription(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleDeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.DeleteSubscription(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ElementIDs []string `json:"elementIds"`
		MaxDepth   int      `json:"maxDepth"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	registered, skipped, err := s.facade.RegisterItems(r.Context(), r.PathValue("id"), req.ElementIDs, req.MaxDepth)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registered": registered,
		"skipped":    skipped,
	})
}

func (s *Server) handleUnregisterItems(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ElementIDs []string `json:"elementIds"`
	}
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	unregistered, err := s.facade.UnregisterItems(r.Context(), r.PathValue("id"), req.ElementIDs)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unregistered": unregistered})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	res, err := s.facade.SyncSubscription(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res.Events == nil {
		res.Events = []types.ChangeEvent{}
	}
	writeJSON(w, http.StatusOK, res)
}
