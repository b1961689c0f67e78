// Package pagination enumerates paged collections behind one cursor-style
// interface.
//
// An Enumerator is built over one of a closed set of cursors:
//
//   - offset: OData $top/$skip with captured @odata.nextLink values
//     (NewODataEnumerator, NewDataverseEnumerator)
//   - link: Graph opaque @odata.nextLink continuation (NewGraphEnumerator)
//   - CAML: SharePoint RenderListDataAsStream paging tokens (NewCAMLEnumerator)
//   - search: Graph search from/size paging with aggregations (NewSearchEnumerator)
//
// Example usage:
//
//	items, err := pagination.NewODataEnumerator[Item](httpClient, pagination.ODataConfig{
//		Resource: "https://contoso.sharepoint.com/_api/web/lists/getbytitle('Tasks')/items",
//	})
//	items.SetFilter("Status eq 'Open'")
//	page, err := items.FirstPage(ctx)
//	for items.HasNextPage() {
//		page, err = items.NextPage(ctx)
//	}
//
// NextPage and PreviousPage return an empty page, not an error, at either
// end of the enumeration. A failed fetch leaves the cursor where it was so
// the call can be retried.
//
// An Enumerator is not safe for concurrent use. The Collector fetches the
// remaining pages of an offset enumeration in parallel without moving the
// enumerator's cursor.
package pagination
