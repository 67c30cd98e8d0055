package cache

import "strconv"

func CartKey(buyerID int64) string {
	return "cache:cart:buyer:" + strconv.FormatInt(buyerID, 10)
}

func DashboardKey(sellerID int64) string {
	return "cache:dashboard:seller:" + strconv.FormatInt(sellerID, 10)
}

func CategoryKey(categoryID int64) string {
	return "cache:category:" + strconv.FormatInt(categoryID, 10)
}
