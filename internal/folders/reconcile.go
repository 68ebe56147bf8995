package folders

import "datasync/internal/connections"

// ReconcileNames copies the fresh name onto every selected folder whose id is
// still listed. Selected folders missing upstream are kept and unselected
// fresh folders are never added. It reports whether a name changed.
func ReconcileNames(selected []any, fresh []Folder) bool {
	names := make(map[string]string, len(fresh))
	for _, f := range fresh {
		names[f.ID] = f.Name
	}
	changed := false
	for _, item := range selected {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["id"].(string)
		name, listed := names[id]
		if !listed {
			continue
		}
		if cur, _ := m["name"].(string); cur != name {
			m["name"] = name
			changed = true
		}
	}
	return changed
}

// ReconcileSelection applies ReconcileNames to the selection held in
// otherInfo. With an empty siteID the selection is a flat list; otherwise it
// is a site id -> list mapping and only siteID's entry is touched.
func ReconcileSelection(otherInfo map[string]any, siteID string, fresh []Folder) bool {
	raw, ok := otherInfo[connections.FoldersKey]
	if !ok || raw == nil {
		return false
	}
	if siteID == "" {
		list, ok := raw.([]any)
		return ok && ReconcileNames(list, fresh)
	}
	bySite, ok := raw.(map[string]any)
	if !ok {
		return false
	}
	list, ok := bySite[siteID].([]any)
	return ok && ReconcileNames(list, fresh)
}
