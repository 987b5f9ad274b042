package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/todo-1m/tms/internal/app/notes"
)

func TestNotes_OwnerCRUD(t *testing.T) {
	f := newFixture(t)
	f.register("alice")
	f.register("bob")
	alice := f.login("alice")
	bob := f.login("bob")

	rec := f.do(http.MethodPost, "/api/notes", alice.Token, map[string]string{"content": "no title"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "title is required", decodeEnvelope(t, rec).Message)

	rec = f.do(http.MethodPost, "/api/notes", alice.Token, map[string]string{"title": "ideas", "content": "ship it"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var note notes.Note
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &note))
	require.Equal(t, "ideas", note.Title)
	path := fmt.Sprintf("/api/notes/%d", note.ID)

	rec = f.do(http.MethodGet, path, bob.Token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPut, path, alice.Token, map[string]string{"title": "plans", "content": "later"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(http.MethodGet, path, alice.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &note))
	require.Equal(t, "plans", note.Title)
	require.Equal(t, "later", note.Content)

	rec = f.do(http.MethodGet, "/api/notes", bob.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page notes.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Zero(t, page.Total)

	rec = f.do(http.MethodDelete, path, bob.Token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(http.MethodDelete, path, alice.Token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(http.MethodGet, path, alice.Token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminNotes_PagesAcrossOwners(t *testing.T) {
	f := newFixture(t)
	admin := f.register("root")
	f.register("bob")
	_, err := f.identity.SetRole(t.Context(), admin.ID, "ADMIN")
	require.NoError(t, err)
	root := f.login("root")
	bob := f.login("bob")

	for i := range 12 {
		token := bob.Token
		if i%2 == 0 {
			token = root.Token
		}
		rec := f.do(http.MethodPost, "/api/notes", token, map[string]string{"title": fmt.Sprintf("n%d", i)})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := f.do(http.MethodGet, "/api/admin/notes", bob.Token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodGet, "/api/admin/notes", root.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page notes.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Equal(t, int64(12), page.Total)
	require.Equal(t, 10, page.Size)
	require.Len(t, page.Items, 10)
	require.Equal(t, "n11", page.Items[0].Title)

	rec = f.do(http.MethodGet, "/api/admin/notes?page=1&size=10", root.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 2)
	require.Equal(t, "n0", page.Items[1].Title)

	rec = f.do(http.MethodGet, "/api/admin/notes?page=x", root.Token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(http.MethodGet, "/api/admin/notes?page=922337203685477581&size=10", root.Token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "page is out of range", decodeEnvelope(t, rec).Message)
}
