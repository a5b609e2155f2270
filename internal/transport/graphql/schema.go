// Package graphql exposes the order workflow as a GraphQL API, including
// the orderSubmitted subscription over websockets.
package graphql

// Schema is the SDL served by the gateway.
const Schema = `
schema {
	query: Query
	mutation: Mutation
	subscription: Subscription
}

type Query {
	orders(since: String): [Order]
}

type Mutation {
	createOrder(orderNumber: String): Order
	updateContents(orderNumber: String, contents: String): Order
	submit(orderNumber: String): Order
}

type Subscription {
	orderSubmitted: Order
}

type File {
	id: String
	filename: String
	url: String
}

enum OrderState {
	Draft
	Submitted
}

type Order {
	orderNumber: String
	contents: String
	submissionDate: String
	creationDate: String
	updateDate: String
	projectNumber: String
	name: String
	applicationForm: File
	state: OrderState
}
`
