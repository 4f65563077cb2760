package core

import "sort"

// CategoryTotal is an amount aggregated by category name.
type CategoryTotal struct {
	Category string `json:"category"`
	Total    Total  `json:"total"`
	Count    int    `json:"count"`
}

// Summarize groups views by category, largest total first.
func Summarize(views []ExpenseView) []CategoryTotal {
	index := make(map[string]int)
	var out []CategoryTotal
	for _, v := range views {
		i, ok := index[v.Category]
		if !ok {
			i = len(out)
			index[v.Category] = i
			out = append(out, CategoryTotal{Category: v.Category})
		}
		out[i].Total = out[i].Total.Add(v.Amount)
		out[i].Count++
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].Category < out[j].Category
	})
	return out
}
